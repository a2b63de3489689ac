package setup

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/KevinKickass/sunspec-gateway/internal/config"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/setup-v1.json
var setupSchemaJSON string

// FieldError locates one schema violation in the submitted document.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every violation found.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Field + ": " + f.Message
	}
	return "invalid setup: " + strings.Join(msgs, "; ")
}

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("setup-v1.json", strings.NewReader(setupSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("setup-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// Validate checks a raw JSON document against the setup schema.
func (v *Validator) Validate(data []byte) error {
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return v.ValidateValue(doc)
}

// ValidateValue checks an already decoded document.
func (v *Validator) ValidateValue(doc interface{}) error {
	err := v.schema.Validate(doc)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	out := &ValidationError{}
	for _, be := range ve.BasicOutput().Errors {
		// The root entry only says "doesn't validate with ...".
		if (len(ve.Causes) > 0 && be.KeywordLocation == "") || be.Error == "" {
			continue
		}
		field := strings.TrimPrefix(be.InstanceLocation, "/")
		if field == "" {
			field = "(root)"
		}
		out.Fields = append(out.Fields, FieldError{Field: field, Message: be.Error})
	}
	return out
}

// Decode validates data and returns the setup it describes.
func (v *Validator) Decode(data []byte) (config.Setup, error) {
	if err := v.Validate(data); err != nil {
		return config.Setup{}, err
	}

	var s config.Setup
	if err := json.Unmarshal(data, &s); err != nil {
		return config.Setup{}, fmt.Errorf("failed to decode setup: %w", err)
	}
	return s, nil
}

// Inputs returns the driver names the schema accepts.
func Inputs() []string {
	var doc struct {
		Properties struct {
			Input struct {
				Enum []string `json:"enum"`
			} `json:"input"`
		} `json:"properties"`
	}
	_ = json.Unmarshal([]byte(setupSchemaJSON), &doc)
	return doc.Properties.Input.Enum
}
