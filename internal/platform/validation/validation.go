// Package validation checks request bodies against the JSON Schemas embedded in schemas/.
package validation

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaBaseURL = "https://marketplace.schemas.local/"

// Schema names accepted by Validator.Validate.
const (
	CartItems       = "cart_items"
	CartItem        = "cart_item"
	CartCoupon      = "cart_coupon"
	OrderCreate     = "order_create"
	OrderItemUpdate = "order_item_update"
	PaymentCreate   = "payment_create"
	StatusUpdate    = "status_update"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ErrUnknownSchema is returned when Validate is asked for a schema that was never compiled.
var ErrUnknownSchema = errors.New("validation: unknown schema")

// FieldError locates one violation. Field is a JSON pointer into the request body.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error reports every violation found in a request body.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validator holds the compiled request schemas. It is safe for concurrent use.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// New compiles every embedded schema.
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		data, err := schemaFS.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, err
		}
		if err := compiler.AddResource(schemaBaseURL+entry.Name(), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("validation: load %s: %w", entry.Name(), err)
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".schema.json"))
	}

	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		compiled, err := compiler.Compile(schemaBaseURL + name + ".schema.json")
		if err != nil {
			return nil, fmt.Errorf("validation: compile %s: %w", name, err)
		}
		v.schemas[name] = compiled
	}
	return v, nil
}

// MustNew is New for package-level wiring and tests.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks body against the named schema. Malformed JSON and schema violations are both
// reported as *Error.
func (v *Validator) Validate(name string, body []byte) error {
	schema, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	err := dec.Decode(&doc)
	if err == nil {
		if t, _ := dec.Token(); t != nil {
			err = fmt.Errorf("invalid character %v after top-level value", t)
		}
	}
	if err != nil {
		return &Error{Fields: []FieldError{{Field: "/", Message: "body must be valid JSON"}}}
	}
	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &Error{Fields: flatten(verr)}
		}
		return err
	}
	return nil
}

// flatten collects the leaf causes, which carry the specific messages.
func flatten(root *jsonschema.ValidationError) []FieldError {
	var out []FieldError
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			field := e.InstanceLocation
			if field == "" {
				field = "/"
			}
			out = append(out, FieldError{Field: field, Message: e.Message})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(root)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}
