package schema

import (
	"bytes"
	"encoding/json"

	"github.com/BaSui01/genflow/types"
)

// Schema validates a raw JSON payload and converts it to T.
type Schema[T any] interface {
	Validate(raw json.RawMessage) (T, error)
}

// Func adapts a plain function to Schema.
type Func[T any] func(raw json.RawMessage) (T, error)

// Validate calls f.
func (f Func[T]) Validate(raw json.RawMessage) (T, error) {
	return f(raw)
}

// JSON decodes the payload into T. With Strict set, unknown object fields
// are rejected.
type JSON[T any] struct {
	Strict bool
}

// Validate implements Schema.
func (s JSON[T]) Validate(raw json.RawMessage) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(raw))
	if s.Strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&v); err != nil {
		return v, types.NewValidationError("decode event payload", err)
	}
	return v, nil
}

// Typed checks the payload against Def before decoding it into T.
type Typed[T any] struct {
	Def       *Definition
	Validator *Validator
	Strict    bool
}

// NewTyped creates a Typed schema with the default validator.
func NewTyped[T any](def *Definition) Typed[T] {
	return Typed[T]{Def: def, Validator: NewValidator()}
}

// Validate implements Schema.
func (s Typed[T]) Validate(raw json.RawMessage) (T, error) {
	var zero T
	v := s.Validator
	if v == nil {
		v = NewValidator()
	}
	if err := v.Validate(raw, s.Def); err != nil {
		return zero, types.NewValidationError("event payload does not match schema", err)
	}
	return JSON[T]{Strict: s.Strict}.Validate(raw)
}

// Any accepts every well-formed payload and returns it unchanged.
func Any() Schema[json.RawMessage] {
	return Func[json.RawMessage](func(raw json.RawMessage) (json.RawMessage, error) {
		out := make(json.RawMessage, len(raw))
		copy(out, raw)
		return out, nil
	})
}
