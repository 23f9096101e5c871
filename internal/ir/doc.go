// Package ir defines the runtime values and records shared by every layer
// of flowgate.
//
// Value is a sealed interface: Null, String, Number, Bool, Date, Array and
// Object are its only implementations. Expressions produce Values, the data
// store persists Objects, and the engine reports EffectResults and
// HistoryEvents built from them.
//
// MarshalCanonical gives a stable byte form (sorted keys, NFC strings, fixed
// number formatting) used for content-addressed IDs and golden traces.
package ir
