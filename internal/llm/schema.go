package llm

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// Schema is the strict JSON schema of a Go type plus its compiled validator.
type Schema struct {
	Name       string
	Definition map[string]any

	compiled *gojsonschema.Schema
}

var schemaCache sync.Map // reflect.Type → *Schema

// SchemaFor reflects and caches the strict schema of T. T must be a struct.
func SchemaFor[T any]() (*Schema, error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if cached, ok := schemaCache.Load(typ); ok {
		return cached.(*Schema), nil
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("llm: schema target %s is not a struct", typ)
	}

	reflector := jsonschema.Reflector{
		Anonymous:                 true,
		AllowAdditionalProperties: false,
		ExpandedStruct:            true,
		DoNotReference:            true,
	}
	var zero T
	raw, err := json.Marshal(reflector.Reflect(zero))
	if err != nil {
		return nil, fmt.Errorf("llm: marshal schema for %s: %w", typ.Name(), err)
	}
	var def map[string]any
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("llm: unmarshal schema for %s: %w", typ.Name(), err)
	}
	strictify(def)

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def))
	if err != nil {
		return nil, fmt.Errorf("llm: compile schema for %s: %w", typ.Name(), err)
	}

	s := &Schema{Name: typ.Name(), Definition: def, compiled: compiled}
	actual, _ := schemaCache.LoadOrStore(typ, s)
	return actual.(*Schema), nil
}

// Validate checks a raw JSON document against the schema.
func (s *Schema) Validate(doc string) error {
	result, err := s.compiled.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("schema mismatch: %s", strings.Join(msgs, "; "))
}

// strictify rewrites a reflected schema into the subset accepted by strict
// structured outputs: every property required, no additional properties,
// anyOf instead of oneOf, no meta keys.
func strictify(node map[string]any) {
	delete(node, "$schema")
	delete(node, "$id")

	if oneOf, ok := node["oneOf"]; ok {
		node["anyOf"] = oneOf
		delete(node, "oneOf")
	}

	if typ, _ := node["type"].(string); typ == "object" {
		node["additionalProperties"] = false
	}

	if props, ok := node["properties"].(map[string]any); ok {
		required := make([]any, 0, len(props))
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			required = append(required, k)
			if child, ok := props[k].(map[string]any); ok {
				strictify(child)
			}
		}
		node["required"] = required
	}

	if items, ok := node["items"].(map[string]any); ok {
		strictify(items)
	}
	if variants, ok := node["anyOf"].([]any); ok {
		for _, v := range variants {
			if child, ok := v.(map[string]any); ok {
				strictify(child)
			}
		}
	}
	if defs, ok := node["$defs"].(map[string]any); ok {
		for _, d := range defs {
			if child, ok := d.(map[string]any); ok {
				strictify(child)
			}
		}
	}
}
