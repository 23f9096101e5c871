package compiler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/roach88/flowgate/internal/schema"
)

// Format is a definition source format.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONC Format = "jsonc"
	FormatYAML  Format = "yaml"
	FormatCUE   Format = "cue"
)

// FormatFromPath picks a format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".jsonc":
		return FormatJSONC, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	}
	return "", fmt.Errorf("unsupported definition file extension %q", filepath.Ext(path))
}

// LoadFile reads, decodes, validates and compiles a definition file.
func LoadFile(path string) (*schema.SystemDefinition, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	def, err := Load(data, format, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Load decodes data in the given format, validates it against the
// definition schema and compiles it. filename is used in CUE positions.
func Load(data []byte, format Format, filename string) (*schema.SystemDefinition, error) {
	doc, err := Decode(data, format, filename)
	if err != nil {
		return nil, err
	}
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}
	return Compile(doc)
}

// Decode converts a definition source into a generic JSON tree. Every
// format is normalized through JSON, so numbers arrive as json.Number and
// objects as map[string]any.
func Decode(data []byte, format Format, filename string) (any, error) {
	var jsonData []byte

	switch format {
	case FormatJSON:
		jsonData = data
	case FormatJSONC:
		jsonData = jsonc.ToJSON(data)
	case FormatYAML:
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &CompileError{Field: "yaml", Message: err.Error(), Err: err}
		}
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, &CompileError{Field: "yaml", Message: fmt.Sprintf("converting to JSON: %v", err), Err: err}
		}
		jsonData = b
	case FormatCUE:
		b, err := cueToJSON(data, filename)
		if err != nil {
			return nil, err
		}
		jsonData = b
	default:
		return nil, fmt.Errorf("unsupported definition format %q", format)
	}

	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &CompileError{Field: string(format), Message: fmt.Sprintf("invalid JSON: %v", err), Err: err}
	}
	return doc, nil
}

// cueToJSON evaluates a CUE source and exports it as JSON. A top-level
// `system` field, when present, holds the definition; otherwise the whole
// file is the definition.
func cueToJSON(data []byte, filename string) ([]byte, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	if sys := v.LookupPath(cue.ParsePath("system")); sys.Exists() {
		v = sys
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	b, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	return b, nil
}
