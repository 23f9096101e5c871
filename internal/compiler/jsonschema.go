package compiler

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var definitionSchemaJSON []byte

const definitionSchemaURL = "https://flowgate.dev/schemas/system-definition.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func definitionSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(definitionSchemaURL, bytes.NewReader(definitionSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("definition schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(definitionSchemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("definition schema compile failed: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// ValidateDocument checks a decoded definition against the embedded JSON
// Schema. The first, most specific violation is reported as a
// CompileError whose Field is the violation's instance location.
func ValidateDocument(doc any) error {
	s, err := definitionSchema()
	if err != nil {
		return err
	}
	if err := s.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaf := deepestCause(ve)
			return &CompileError{
				Field:   pointerToPath(leaf.InstanceLocation),
				Message: leaf.Message,
				Err:     err,
			}
		}
		return &CompileError{Field: "schema", Message: err.Error(), Err: err}
	}
	return nil
}

func deepestCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

// pointerToPath renders a JSON pointer ("/resources/Switch/states/0") in
// the dotted form used elsewhere ("resources.Switch.states[0]").
func pointerToPath(ptr string) string {
	if ptr == "" || ptr == "/" {
		return "definition"
	}
	var b bytes.Buffer
	for i, seg := range splitPointer(ptr) {
		if isIndex(seg) {
			fmt.Fprintf(&b, "[%s]", seg)
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

func splitPointer(ptr string) []string {
	var segs []string
	for _, s := range bytes.Split([]byte(ptr[1:]), []byte("/")) {
		seg := string(bytes.ReplaceAll(bytes.ReplaceAll(s, []byte("~1"), []byte("/")), []byte("~0"), []byte("~")))
		segs = append(segs, seg)
	}
	return segs
}

func isIndex(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
