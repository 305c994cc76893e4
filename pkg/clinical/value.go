package clinical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cast"
)

// Kind is the closed set of scalar kinds a property value can take.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	default:
		return "null"
	}
}

// Value is a scalar property value. The zero Value is null.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
}

func Null() Value { return Value{} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) Str() string { return v.s }
func (v Value) IntVal() int64 { return v.i }
func (v Value) FloatVal() float64 { return v.f }
func (v Value) BoolVal() bool { return v.b }

// ValueOf converts an arbitrary Go value into a Value. Anything that is not a
// scalar is stringified: maps and slices as compact JSON, the rest via cast.
func ValueOf(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return Int(cast.ToInt64(t))
	case uint, uint64:
		u := cast.ToUint64(t)
		if u > 1<<63-1 {
			return Float(float64(u))
		}
		return Int(int64(u))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case json.Number:
		return numberValue(t)
	case map[string]any, []any:
		raw, err := json.Marshal(t)
		if err != nil {
			return String(fmt.Sprint(t))
		}
		return String(string(raw))
	default:
		s, err := cast.ToStringE(t)
		if err != nil {
			return String(fmt.Sprint(t))
		}
		return String(s)
	}
}

func numberValue(n json.Number) Value {
	if i, err := n.Int64(); err == nil {
		return Int(i)
	}
	if f, err := n.Float64(); err == nil {
		return Float(f)
	}
	return String(n.String())
}

// Bind returns the value in the form a graph driver accepts as a parameter.
func (v Value) Bind() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// String renders the value for logs and prompts.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return "null"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Bind())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return err
	}
	*v = ValueOf(x)
	return nil
}

// Property is one key/value pair of an ordered property map.
type Property struct {
	Key   string
	Value Value
}

// Properties is an insertion-ordered map of scalar values.
type Properties struct {
	items []Property
}

// NewProperties builds a map from alternating key, value arguments.
func NewProperties(kv ...any) Properties {
	var p Properties
	for i := 0; i+1 < len(kv); i += 2 {
		p.Set(cast.ToString(kv[i]), ValueOf(kv[i+1]))
	}
	return p
}

func (p Properties) Len() int { return len(p.items) }

func (p Properties) index(key string) int {
	for i, it := range p.items {
		if it.Key == key {
			return i
		}
	}
	return -1
}

func (p Properties) Get(key string) (Value, bool) {
	if i := p.index(key); i >= 0 {
		return p.items[i].Value, true
	}
	return Value{}, false
}

// Set replaces an existing key in place or appends a new one.
func (p *Properties) Set(key string, v Value) {
	if i := p.index(key); i >= 0 {
		p.items[i].Value = v
		return
	}
	p.items = append(p.items, Property{Key: key, Value: v})
}

func (p *Properties) Delete(key string) {
	if i := p.index(key); i >= 0 {
		p.items = append(p.items[:i:i], p.items[i+1:]...)
	}
}

func (p Properties) Keys() []string {
	keys := make([]string, len(p.items))
	for i, it := range p.items {
		keys[i] = it.Key
	}
	return keys
}

// Items returns a copy of the ordered pairs.
func (p Properties) Items() []Property {
	return append([]Property(nil), p.items...)
}

func (p Properties) Clone() Properties {
	if p.items == nil {
		return Properties{}
	}
	items := make([]Property, len(p.items))
	copy(items, p.items)
	return Properties{items: items}
}

// Params returns the non-null values as bind parameters.
func (p Properties) Params() map[string]any {
	out := make(map[string]any, len(p.items))
	for _, it := range p.items {
		if it.Value.IsNull() {
			continue
		}
		out[it.Key] = it.Value.Bind()
	}
	return out
}

func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, it := range p.items {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(it.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := it.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

var errNotObject = errors.New("properties must be a JSON object")

// UnmarshalJSON decodes a JSON object keeping key order. null decodes to an
// empty map.
func (p *Properties) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = Properties{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errNotObject
	}

	var out Properties
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return errNotObject
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		out.Set(key, ValueOf(raw))
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return err
	}
	*p = out
	return nil
}
