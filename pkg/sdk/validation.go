package sdk

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	schemaLoginChallenge = "login_challenge.json"
	schemaTokenPair      = "token_pair.json"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// schemaValidator validates decrypted or decoded server documents against the
// embedded JSON schemas. Compiled schemas are cached by name.
type schemaValidator struct {
	cache *lru.Cache[string, *jsonschema.Schema]
}

func newSchemaValidator(cacheSize int) (*schemaValidator, error) {
	cache, err := lru.New[string, *jsonschema.Schema](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create schema cache: %w", err)
	}
	return &schemaValidator{cache: cache}, nil
}

// validate checks document against the named schema. Violations wrap ErrProtocol.
func (v *schemaValidator) validate(name string, document []byte) error {
	schema, err := v.schema(name)
	if err != nil {
		return err
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(document))
	if err != nil {
		return fmt.Errorf("%w: %s is not valid JSON: %w", ErrProtocol, name, err)
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %s", ErrProtocol, formatValidationError(err))
	}
	return nil
}

func (v *schemaValidator) schema(name string) (*jsonschema.Schema, error) {
	if cached, ok := v.cache.Get(name); ok {
		return cached, nil
	}

	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft7)
	if err := compiler.AddResource(name, parsed); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}

	v.cache.Add(name, schema)
	return schema, nil
}

// formatValidationError renders the failing instance location as a JSON path.
// Example: "validation failed at '$.verify_token': does not match pattern ..."
func formatValidationError(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}

	path := "$"
	var parts []string
	for _, part := range ve.InstanceLocation {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) > 0 {
		path = "$." + strings.Join(parts, ".")
	}

	msg := ve.Error()
	if len(msg) > 200 {
		msg = msg[:200] + "... (truncated)"
	}
	return fmt.Sprintf("validation failed at '%s': %s", path, msg)
}
