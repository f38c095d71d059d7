package toolexec

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compiledSchema caches a tool's compiled JSON schema so Validate only pays
// the compile cost once.
type compiledSchema struct {
	schema *jsonschema.Schema
}

// validateArgs compiles (and caches) tool.Parameters as a JSON schema and
// checks argsJSON against it. A tool with no Parameters is unvalidated.
func (r *Registry) validateArgs(tool *Tool, argsJSON []byte) error {
	if len(tool.Parameters) == 0 {
		return nil
	}

	cs, err := r.compiledFor(tool)
	if err != nil {
		return fmt.Errorf("tool schema for %s is invalid: %w", tool.Name, err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(argsJSON))
	if err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := cs.schema.Validate(doc); err != nil {
		return err
	}
	return nil
}

func (r *Registry) compiledFor(tool *Tool) (*compiledSchema, error) {
	r.mu.RLock()
	cs, ok := r.schema[tool.Name]
	r.mu.RUnlock()
	if ok {
		return cs, nil
	}

	compiler := jsonschema.NewCompiler()
	resourceName := tool.Name + ".schema.json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(tool.Parameters)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, err
	}

	cs = &compiledSchema{schema: schema}
	r.mu.Lock()
	r.schema[tool.Name] = cs
	r.mu.Unlock()
	return cs, nil
}
