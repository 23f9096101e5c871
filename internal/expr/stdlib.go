package expr

// stdlib holds functions defined in terms of built-in operators. They are
// available in every Context and may be replaced with WithFunctions.
var stdlib = map[string]Node{
	// inState: {states: [...]} is true when self's state is listed.
	"inState": MustParseJSON(`{"contains": {"haystack": {"$": "states"}, "needle": {"get": "state"}}}`),
}

// Stdlib returns the names of the standard library functions.
func Stdlib() []string {
	names := make([]string, 0, len(stdlib))
	for name := range stdlib {
		names = append(names, name)
	}
	return names
}
