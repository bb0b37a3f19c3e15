package schema

import (
	"encoding/json"
	"fmt"
)

// Type is a JSON Schema primitive type.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeNull    Type = "null"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
)

// Format is a string format constraint.
type Format string

const (
	FormatDateTime Format = "date-time"
	FormatDate     Format = "date"
	FormatEmail    Format = "email"
	FormatURI      Format = "uri"
	FormatUUID     Format = "uuid"
)

// Definition is the supported subset of JSON Schema.
type Definition struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	Type Type `json:"type,omitempty"`

	// Object
	Properties           map[string]*Definition `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties *bool                  `json:"additionalProperties,omitempty"`

	// Array
	Items    *Definition `json:"items,omitempty"`
	MinItems *int        `json:"minItems,omitempty"`
	MaxItems *int        `json:"maxItems,omitempty"`

	Enum  []any `json:"enum,omitempty"`
	Const any   `json:"const,omitempty"`

	// String
	MinLength *int   `json:"minLength,omitempty"`
	MaxLength *int   `json:"maxLength,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
	Format    Format `json:"format,omitempty"`

	// Numeric
	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`
}

// Object creates an object definition.
func Object() *Definition {
	return &Definition{Type: TypeObject, Properties: make(map[string]*Definition)}
}

// Array creates an array definition.
func Array(items *Definition) *Definition {
	return &Definition{Type: TypeArray, Items: items}
}

// String creates a string definition.
func String() *Definition { return &Definition{Type: TypeString} }

// Number creates a number definition.
func Number() *Definition { return &Definition{Type: TypeNumber} }

// Integer creates an integer definition.
func Integer() *Definition { return &Definition{Type: TypeInteger} }

// Boolean creates a boolean definition.
func Boolean() *Definition { return &Definition{Type: TypeBoolean} }

// Enum creates an enum definition.
func Enum(values ...any) *Definition { return &Definition{Enum: values} }

// Prop adds a property.
func (d *Definition) Prop(name string, prop *Definition) *Definition {
	if d.Properties == nil {
		d.Properties = make(map[string]*Definition)
	}
	d.Properties[name] = prop
	return d
}

// Require marks fields as required.
func (d *Definition) Require(names ...string) *Definition {
	d.Required = append(d.Required, names...)
	return d
}

// Closed disallows properties not listed in Properties.
func (d *Definition) Closed() *Definition {
	f := false
	d.AdditionalProperties = &f
	return d
}

// Parse decodes a definition from its JSON form.
func Parse(data []byte) (*Definition, error) {
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON schema: %w", err)
	}
	return &d, nil
}
