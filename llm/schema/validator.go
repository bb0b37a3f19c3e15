package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

// Violation is a single constraint failure at a JSON path.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}

// Violations is returned by Validator.Validate when the payload does not
// satisfy the definition.
type Violations []Violation

// Error implements the error interface.
func (vs Violations) Error() string {
	switch len(vs) {
	case 0:
		return "validation failed"
	case 1:
		return vs[0].String()
	}
	msgs := make([]string, len(vs))
	for i, v := range vs {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(vs), strings.Join(msgs, "; "))
}

var builtinFormats = map[Format]*regexp.Regexp{
	FormatEmail:    regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`),
	FormatURI:      regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`),
	FormatUUID:     regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`),
	FormatDateTime: regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`),
	FormatDate:     regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),
}

// Validator checks JSON documents against a Definition. Compiled patterns
// are cached, so one Validator should be shared by a stream.
type Validator struct {
	mu       sync.RWMutex
	formats  map[Format]func(string) bool
	patterns sync.Map // string -> *regexp.Regexp
}

// NewValidator returns a validator with the built-in formats registered.
func NewValidator() *Validator {
	v := &Validator{formats: make(map[Format]func(string) bool)}
	for f, re := range builtinFormats {
		v.formats[f] = re.MatchString
	}
	return v
}

// RegisterFormat registers or replaces a format checker.
func (v *Validator) RegisterFormat(format Format, check func(string) bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.formats[format] = check
}

// Validate checks data against def. A nil def accepts any well-formed JSON.
func (v *Validator) Validate(data []byte, def *Definition) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return Violations{{Message: fmt.Sprintf("invalid JSON: %v", err)}}
	}
	if def == nil {
		return nil
	}

	var out Violations
	v.check(value, def, "", &out)
	if len(out) > 0 {
		return out
	}
	return nil
}

func (v *Validator) check(value any, def *Definition, path string, out *Violations) {
	if def == nil {
		return
	}
	add := func(format string, args ...any) {
		*out = append(*out, Violation{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if def.Const != nil {
		if !equalValues(value, def.Const) {
			add("value must be %v", def.Const)
		}
		return
	}
	if len(def.Enum) > 0 {
		found := false
		for _, e := range def.Enum {
			if equalValues(value, e) {
				found = true
				break
			}
		}
		if !found {
			add("value must be one of: %v", def.Enum)
		}
	}

	switch def.Type {
	case "":
	case TypeString:
		s, ok := value.(string)
		if !ok {
			add("expected string, got %s", jsonKind(value))
			return
		}
		v.checkString(s, def, add)
	case TypeNumber, TypeInteger:
		n, ok := value.(json.Number)
		if !ok {
			add("expected %s, got %s", def.Type, jsonKind(value))
			return
		}
		f, err := n.Float64()
		if err != nil {
			add("invalid number %s", n)
			return
		}
		if def.Type == TypeInteger && f != math.Trunc(f) {
			add("expected integer, got %v", f)
			return
		}
		if def.Minimum != nil && f < *def.Minimum {
			add("value %v is less than minimum %v", f, *def.Minimum)
		}
		if def.Maximum != nil && f > *def.Maximum {
			add("value %v exceeds maximum %v", f, *def.Maximum)
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			add("expected boolean, got %s", jsonKind(value))
		}
	case TypeNull:
		if value != nil {
			add("expected null, got %s", jsonKind(value))
		}
	case TypeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			add("expected object, got %s", jsonKind(value))
			return
		}
		v.checkObject(obj, def, path, out)
	case TypeArray:
		arr, ok := value.([]any)
		if !ok {
			add("expected array, got %s", jsonKind(value))
			return
		}
		if def.MinItems != nil && len(arr) < *def.MinItems {
			add("array has %d items, minimum is %d", len(arr), *def.MinItems)
		}
		if def.MaxItems != nil && len(arr) > *def.MaxItems {
			add("array has %d items, maximum is %d", len(arr), *def.MaxItems)
		}
		for i, item := range arr {
			v.check(item, def.Items, fmt.Sprintf("%s[%d]", path, i), out)
		}
	default:
		add("unsupported schema type %q", def.Type)
	}
}

func (v *Validator) checkString(s string, def *Definition, add func(string, ...any)) {
	n := utf8.RuneCountInString(s)
	if def.MinLength != nil && n < *def.MinLength {
		add("string length %d is less than minimum %d", n, *def.MinLength)
	}
	if def.MaxLength != nil && n > *def.MaxLength {
		add("string length %d exceeds maximum %d", n, *def.MaxLength)
	}
	if def.Pattern != "" {
		re, err := v.pattern(def.Pattern)
		if err != nil {
			add("invalid pattern %q: %v", def.Pattern, err)
		} else if !re.MatchString(s) {
			add("string does not match pattern %q", def.Pattern)
		}
	}
	if def.Format != "" {
		v.mu.RLock()
		check, ok := v.formats[def.Format]
		v.mu.RUnlock()
		if ok && !check(s) {
			add("string does not match format %q", def.Format)
		}
	}
}

func (v *Validator) checkObject(obj map[string]any, def *Definition, path string, out *Violations) {
	for _, name := range def.Required {
		val, ok := obj[name]
		switch {
		case !ok:
			*out = append(*out, Violation{Path: joinPath(path, name), Message: "required field is missing"})
		case val == nil:
			*out = append(*out, Violation{Path: joinPath(path, name), Message: "required field must not be null"})
		}
	}
	closed := def.AdditionalProperties != nil && !*def.AdditionalProperties
	for name, val := range obj {
		prop, ok := def.Properties[name]
		if !ok {
			if closed {
				*out = append(*out, Violation{Path: joinPath(path, name), Message: "additional property not allowed"})
			}
			continue
		}
		v.check(val, prop, joinPath(path, name), out)
	}
}

func (v *Validator) pattern(p string) (*regexp.Regexp, error) {
	if re, ok := v.patterns.Load(p); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	v.patterns.Store(p, re)
	return re, nil
}

func equalValues(a, b any) bool {
	if an, ok := toFloat(a); ok {
		bn, ok := toFloat(b)
		return ok && an == bn
	}
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return bytes.Equal(aj, bj)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", v)
}

func joinPath(base, segment string) string {
	if base == "" {
		return segment
	}
	return base + "." + segment
}
