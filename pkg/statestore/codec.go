package statestore

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks payload shapes at the store boundary. Each registered key
// prefix binds a JSON Schema; a value written under that prefix must satisfy
// the schema, whether it originates locally or from a peer. Keys with no
// registered prefix pass through unvalidated.
//
// When several registered prefixes match a key, the longest one wins.
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewValidator returns an empty validator.
func NewValidator() *Validator {
	return &Validator{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles schemaJSON and binds it to every key starting with
// prefix. Returns an error if the schema does not compile or the prefix is
// already bound.
func (v *Validator) Register(prefix, schemaJSON string) error {
	if prefix == "" {
		return fmt.Errorf("schema prefix cannot be empty")
	}

	compiler := jsonschema.NewCompiler()
	resource := "huddle:///" + url.PathEscape(prefix) + "/schema.json"
	if err := compiler.AddResource(resource, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("failed to add schema for prefix %s: %w", prefix, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("failed to compile schema for prefix %s: %w", prefix, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.schemas[prefix]; exists {
		return fmt.Errorf("schema prefix %s already registered", prefix)
	}
	v.schemas[prefix] = schema
	return nil
}

// Validate checks raw against the schema bound to key's longest matching
// registered prefix. A nil return means the value is acceptable.
func (v *Validator) Validate(key string, raw json.RawMessage) error {
	schema := v.lookup(key)
	if schema == nil {
		return nil
	}

	var val any
	if err := json.Unmarshal(raw, &val); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if err := schema.Validate(val); err != nil {
		return fmt.Errorf("payload violates schema: %w", err)
	}
	return nil
}

func (v *Validator) lookup(key string) *jsonschema.Schema {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var best string
	var found *jsonschema.Schema
	for prefix, schema := range v.schemas {
		if strings.HasPrefix(key, prefix) && len(prefix) > len(best) {
			best = prefix
			found = schema
		}
	}
	return found
}
