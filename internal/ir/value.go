package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the JSON-like values the cache handles.
// Payload values use Null, Bool, Int, Float, String, Array and Object.
// Ref and BackRef only appear in shape templates and entity attributes.
type Value interface {
	irValue() // Sealed - only the types in this package implement it
}

// Null represents a JSON null. Absent entities also denormalize to Null.
type Null struct{}

func (Null) irValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String represents a string value.
type String string

func (String) irValue() {}

// Int represents an integral JSON number.
type Int int64

func (Int) irValue() {}

// Float represents a JSON number that does not fit Int.
type Float float64

func (Float) irValue() {}

// Bool represents a boolean value.
type Bool bool

func (Bool) irValue() {}

// Array represents an ordered list of values.
type Array []Value

func (Array) irValue() {}

// Object represents a map of field names to values.
// Use SortedKeys() for deterministic iteration.
type Object map[string]Value

func (Object) irValue() {}

// Pair is a key-value pair for Object construction.
type Pair struct {
	Key   string
	Value Value
}

// O is a shorthand for Pair.
// Example: NewObject(O("id", String("1")), O("name", String("A")))
func O(key string, value Value) Pair {
	return Pair{Key: key, Value: value}
}

// NewObject creates an Object from key-value pairs. Later pairs win.
func NewObject(pairs ...Pair) Object {
	obj := make(Object, len(pairs))
	for _, p := range pairs {
		obj[p.Key] = p.Value
	}
	return obj
}

// NewArray creates an Array from values.
func NewArray(vals ...Value) Array {
	return Array(vals)
}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
// Go's sort.Strings uses UTF-8 byte order, which differs outside the BMP.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings by UTF-16 code units.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	for i := 0; i < min(len(a16), len(b16)); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// Unmarshal decodes JSON bytes into a Value.
// Numbers that parse as int64 become Int, everything else Float.
func Unmarshal(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return FromAny(raw)
}

// UnmarshalJSON implements json.Unmarshaler for Object.
func (obj *Object) UnmarshalJSON(data []byte) error {
	v, err := Unmarshal(data)
	if err != nil {
		return err
	}
	o, ok := v.(Object)
	if !ok {
		return fmt.Errorf("expected JSON object, got %s", KindOf(v))
	}
	*obj = o
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for Array.
func (arr *Array) UnmarshalJSON(data []byte) error {
	v, err := Unmarshal(data)
	if err != nil {
		return err
	}
	a, ok := v.(Array)
	if !ok {
		return fmt.Errorf("expected JSON array, got %s", KindOf(v))
	}
	*arr = a
	return nil
}

// FromAny converts decoded Go values (encoding/json or yaml.v3 output) into a Value.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return Float(float64(val)), nil
		}
		return Int(int64(val)), nil
	case float32:
		return fromFloat(float64(val)), nil
	case float64:
		return fromFloat(val), nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return Int(n), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return Float(f), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = conv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromFloat keeps whole numbers integral so YAML and JSON sources agree.
func fromFloat(f float64) Value {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return Int(int64(f))
	}
	return Float(f)
}

// ToAny converts a Value back into plain Go values.
// Ref becomes {"$ref": "type:id"}; BackRef becomes {"$backref": true}.
// Cyclic values are cut with nil at the point of re-entry.
func ToAny(v Value) any {
	return toAny(v, newVisitSet())
}

func toAny(v Value, visiting visitSet) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(val)
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Ref:
		return map[string]any{"$ref": val.Key().String()}
	case BackRef:
		return map[string]any{"$backref": true}
	case Array:
		if !visiting.enter(val) {
			return nil
		}
		defer visiting.leave(val)
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = toAny(elem, visiting)
		}
		return out
	case Object:
		if !visiting.enter(val) {
			return nil
		}
		defer visiting.leave(val)
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = toAny(elem, visiting)
		}
		return out
	default:
		return nil
	}
}

// Marshal encodes a Value as compact JSON with sorted object keys.
// It is NOT canonical (HTML escaping applies); use MarshalCanonical for hashing.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := marshalInto(&buf, v, newVisitSet()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler for Object with sorted keys.
func (obj Object) MarshalJSON() ([]byte, error) {
	return Marshal(obj)
}

// MarshalJSON implements json.Marshaler for Array.
func (arr Array) MarshalJSON() ([]byte, error) {
	return Marshal(arr)
}

func marshalInto(buf *bytes.Buffer, v Value, visiting visitSet) error {
	switch val := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case Bool, String, Int:
		b, err := json.Marshal(ToAny(val))
		if err != nil {
			return err
		}
		buf.Write(b)
	case Float:
		b, err := json.Marshal(float64(val))
		if err != nil {
			return fmt.Errorf("float %v: %w", float64(val), err)
		}
		buf.Write(b)
	case Ref, BackRef:
		b, err := json.Marshal(ToAny(val))
		if err != nil {
			return err
		}
		buf.Write(b)
	case Array:
		if !visiting.enter(val) {
			return ErrCyclicValue
		}
		defer visiting.leave(val)
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := marshalInto(buf, elem, visiting); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case Object:
		if !visiting.enter(val) {
			return ErrCyclicValue
		}
		defer visiting.leave(val)
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("marshal key %q: %w", k, err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := marshalInto(buf, val[k], visiting); err != nil {
				return fmt.Errorf("object[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown Value type: %T", v)
	}
	return nil
}

// KindOf names the kind of a value for diagnostics.
func KindOf(v Value) string {
	switch v.(type) {
	case nil, Null:
		return "null"
	case Bool:
		return "bool"
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Array:
		return "array"
	case Object:
		return "object"
	case Ref:
		return "ref"
	case BackRef:
		return "backref"
	default:
		return fmt.Sprintf("%T", v)
	}
}
