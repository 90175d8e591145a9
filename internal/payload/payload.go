// Package payload models an arbitrary JSON document as a closed sum type
// that keeps object members in document order.
package payload

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned by Parse for input that is not a JSON document.
var ErrInvalidJSON = errors.New("payload is not valid JSON")

// Kind tags a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindSequence
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMap:
		return "map"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is one node of a payload tree. Only the fields matching Kind are set.
type Value struct {
	Kind Kind
	// Str holds the decoded string for KindString.
	Str string
	// Raw holds the literal for KindNumber and KindBool.
	Raw string
	// Entries holds map members in document order. Repeated keys are kept.
	Entries []Entry
	// Items holds sequence elements.
	Items []Value
}

// Entry is one map member.
type Entry struct {
	Key   string
	Value Value
}

// Parse decodes data without reordering or deduplicating object members.
func Parse(data []byte) (Value, error) {
	if !gjson.ValidBytes(data) {
		return Value{}, ErrInvalidJSON
	}
	return fromResult(gjson.ParseBytes(data)), nil
}

func fromResult(r gjson.Result) Value {
	switch {
	case r.IsObject():
		v := Value{Kind: KindMap}
		r.ForEach(func(key, val gjson.Result) bool {
			v.Entries = append(v.Entries, Entry{Key: key.Str, Value: fromResult(val)})
			return true
		})
		return v
	case r.IsArray():
		v := Value{Kind: KindSequence}
		r.ForEach(func(_, val gjson.Result) bool {
			v.Items = append(v.Items, fromResult(val))
			return true
		})
		return v
	}

	switch r.Type {
	case gjson.String:
		return String(r.Str)
	case gjson.Number:
		return Number(r.Raw)
	case gjson.True:
		return Bool(true)
	case gjson.False:
		return Bool(false)
	default:
		return Null()
	}
}

func Null() Value { return Value{Kind: KindNull} }
func String(s string) Value { return Value{Kind: KindString, Str: s} }
func Number(raw string) Value { return Value{Kind: KindNumber, Raw: raw} }

func Bool(b bool) Value {
	return Value{Kind: KindBool, Raw: strconv.FormatBool(b)}
}

// Map builds a map from entries in the given order.
func Map(entries ...Entry) Value {
	return Value{Kind: KindMap, Entries: entries}
}

// Sequence builds a sequence.
func Sequence(items ...Value) Value {
	return Value{Kind: KindSequence, Items: items}
}

// E is shorthand for an Entry.
func E(key string, v Value) Entry {
	return Entry{Key: key, Value: v}
}

// Text renders v for the degraded "key=value" form: strings verbatim,
// everything else as compact JSON.
func (v Value) Text() string {
	if v.Kind == KindString {
		return v.Str
	}
	return string(v.AppendJSON(nil))
}

// AppendJSON appends the compact JSON encoding of v, members in order.
func (v Value) AppendJSON(dst []byte) []byte {
	switch v.Kind {
	case KindString:
		b, _ := json.Marshal(v.Str)
		return append(dst, b...)
	case KindNumber, KindBool:
		return append(dst, v.Raw...)
	case KindSequence:
		dst = append(dst, '[')
		for i, item := range v.Items {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = item.AppendJSON(dst)
		}
		return append(dst, ']')
	case KindMap:
		dst = append(dst, '{')
		for i, e := range v.Entries {
			if i > 0 {
				dst = append(dst, ',')
			}
			key, _ := json.Marshal(e.Key)
			dst = append(dst, key...)
			dst = append(dst, ':')
			dst = e.Value.AppendJSON(dst)
		}
		return append(dst, '}')
	default:
		return append(dst, "null"...)
	}
}

// MarshalJSON keeps member order.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.AppendJSON(nil), nil
}
