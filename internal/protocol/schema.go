package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBase = "https://stellarcolony.ai/schemas/"

const (
	SchemaHello  = "hello.schema.json"
	SchemaIntent = "intent.schema.json"
	SchemaResult = "result.schema.json"
)

var (
	schemaOnce sync.Once
	schemaErr  error
	schemas    map[string]*jsonschema.Schema
)

func compileSchemas() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	names := []string{SchemaHello, SchemaIntent, SchemaResult}
	for _, n := range names {
		b, err := schemaFS.ReadFile("schemas/" + n)
		if err != nil {
			schemaErr = err
			return
		}
		if err := c.AddResource(schemaBase+n, bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("%s: %w", n, err)
			return
		}
	}
	schemas = make(map[string]*jsonschema.Schema, len(names))
	for _, n := range names {
		s, err := c.Compile(schemaBase + n)
		if err != nil {
			schemaErr = fmt.Errorf("%s: %w", n, err)
			return
		}
		schemas[n] = s
	}
}

// Validate checks a raw JSON message against one of the embedded schemas.
func Validate(schema string, raw []byte) error {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return schemaErr
	}
	s, ok := schemas[schema]
	if !ok {
		return fmt.Errorf("unknown schema %q", schema)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Validate(v)
}

func ValidateHello(raw []byte) error  { return Validate(SchemaHello, raw) }
func ValidateIntent(raw []byte) error { return Validate(SchemaIntent, raw) }
