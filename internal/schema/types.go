package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nao1215/fastcrawl/internal/model"
)

// Kind is the scalar kind of a field type.
type Kind int

// Field kinds.
const (
	KindAny Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindObject
)

var kindNames = map[Kind]string{
	KindAny:    "any",
	KindString: "string",
	KindInt:    "int",
	KindFloat:  "float",
	KindBool:   "bool",
	KindObject: "object",
}

// Type is a declared field type: a kind, optionally as a list.
type Type struct {
	Kind Kind
	List bool
}

// Common types.
var (
	Any    = Type{Kind: KindAny}
	String = Type{Kind: KindString}
	Int    = Type{Kind: KindInt}
	Float  = Type{Kind: KindFloat}
	Bool   = Type{Kind: KindBool}
	Object = Type{Kind: KindObject}
)

// ListOf returns the list type of t's kind.
func ListOf(t Type) Type {
	return Type{Kind: t.Kind, List: true}
}

func (t Type) String() string {
	if t.List {
		return "[]" + kindNames[t.Kind]
	}
	return kindNames[t.Kind]
}

// ParseType parses "int", "[]object", "list"... An empty string is any.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	list := false
	switch {
	case s == "list":
		return ListOf(Any), nil
	case strings.HasPrefix(s, "[]"):
		list = true
		s = s[2:]
	}
	if s == "" && !list {
		return Any, nil
	}
	for k, name := range kindNames {
		if name == s {
			return Type{Kind: k, List: list}, nil
		}
	}
	switch s {
	case "str", "text":
		return Type{Kind: KindString, List: list}, nil
	case "integer":
		return Type{Kind: KindInt, List: list}, nil
	case "number":
		return Type{Kind: KindFloat, List: list}, nil
	case "boolean":
		return Type{Kind: KindBool, List: list}, nil
	}
	return Type{}, fmt.Errorf("%w: unknown type %q", ErrInvalidSchemaType, s)
}

// coerce converts v to t. Conversion is lax: numeric strings become numbers,
// whole floats become ints, and "yes"/"no" become booleans.
func coerce(v any, t Type) (any, error) {
	if v == nil {
		return nil, nil
	}
	if !t.List {
		return coerceScalar(v, t.Kind)
	}

	var items []any
	switch list := v.(type) {
	case []any:
		items = list
	case []string:
		items = make([]any, len(list))
		for i, s := range list {
			items[i] = s
		}
	case []*model.Record:
		items = make([]any, len(list))
		for i, r := range list {
			items[i] = r
		}
	default:
		return nil, fmt.Errorf("expected list, got %T", v)
	}

	out := make([]any, len(items))
	for i, item := range items {
		c, err := coerceScalar(item, t.Kind)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out[i] = c
	}
	return out, nil
}

// wholeInt converts f when it is a whole number that fits in an int64.
// float64(math.MaxInt64) rounds up to 2^63, hence the strict bound.
func wholeInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func coerceScalar(v any, k Kind) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch k {
	case KindAny:
		return v, nil

	case KindString:
		switch t := v.(type) {
		case string:
			return t, nil
		case int64, float64, bool, int:
			return fmt.Sprint(t), nil
		}

	case KindInt:
		switch t := v.(type) {
		case int64:
			return t, nil
		case int:
			return int64(t), nil
		case float64:
			if n, ok := wholeInt(t); ok {
				return n, nil
			}
			return nil, fmt.Errorf("value %v is not a whole number in the int64 range", t)
		case string:
			s := strings.TrimSpace(t)
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, nil
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				if n, ok := wholeInt(f); ok {
					return n, nil
				}
			}
			return nil, fmt.Errorf("cannot parse %q as int", t)
		}

	case KindFloat:
		switch t := v.(type) {
		case float64:
			return t, nil
		case int64:
			return float64(t), nil
		case int:
			return float64(t), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as float", t)
			}
			return f, nil
		}

	case KindBool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case int64:
			if t == 0 || t == 1 {
				return t == 1, nil
			}
		case float64:
			if t == 0 || t == 1 {
				return t == 1, nil
			}
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "true", "1", "yes", "on", "y", "t":
				return true, nil
			case "false", "0", "no", "off", "n", "f":
				return false, nil
			}
			return nil, fmt.Errorf("cannot parse %q as bool", t)
		}

	case KindObject:
		if r, ok := v.(*model.Record); ok {
			return r, nil
		}
	}

	return nil, fmt.Errorf("expected %s, got %T", kindNames[k], v)
}
