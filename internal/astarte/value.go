// Package astarte holds the typed value model shared by the device shell
// commands and the AppEngine REST representation, plus the codecs that
// translate between the two.
package astarte

import (
	"fmt"
	"time"
)

// Kind identifies the wire type carried by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindInteger
	KindDouble
	KindString
	KindBlob
	KindTimestamp
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindBlob:
		return "binaryblob"
	case KindTimestamp:
		return "datetime"
	case KindArray:
		return "array"
	default:
		return "invalid"
	}
}

// Value is a tagged union over the Astarte wire types: boolean, 64-bit signed
// integer, double, string, binary blob, UTC timestamp (millisecond precision)
// and homogeneous arrays of each. Values are immutable after construction.
type Value struct {
	kind Kind
	// elem is the scalar kind shared by all array elements. It is KindInvalid
	// for an empty array decoded from an absent cloud value.
	elem Kind

	b    bool
	i    int64
	f    float64
	s    string
	blob []byte
	t    time.Time
	arr  []Value
}

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Integer(i int64) Value { return Value{kind: KindInteger, i: i} }

func Double(f float64) Value { return Value{kind: KindDouble, f: f} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func Blob(b []byte) Value { return Value{kind: KindBlob, blob: b} }

// Timestamp builds a datetime value. The instant is normalized to UTC and
// truncated to millisecond precision, matching what survives a trip through
// the shell payload and the cloud API.
func Timestamp(t time.Time) Value {
	return Value{kind: KindTimestamp, t: t.UTC().Truncate(time.Millisecond)}
}

func BoolArray(bs []bool) Value {
	arr := make([]Value, len(bs))
	for i, b := range bs {
		arr[i] = Bool(b)
	}
	return Value{kind: KindArray, elem: KindBool, arr: arr}
}

func IntegerArray(is []int64) Value {
	arr := make([]Value, len(is))
	for i, v := range is {
		arr[i] = Integer(v)
	}
	return Value{kind: KindArray, elem: KindInteger, arr: arr}
}

func DoubleArray(fs []float64) Value {
	arr := make([]Value, len(fs))
	for i, f := range fs {
		arr[i] = Double(f)
	}
	return Value{kind: KindArray, elem: KindDouble, arr: arr}
}

func StringArray(ss []string) Value {
	arr := make([]Value, len(ss))
	for i, s := range ss {
		arr[i] = String(s)
	}
	return Value{kind: KindArray, elem: KindString, arr: arr}
}

func BlobArray(bs [][]byte) Value {
	arr := make([]Value, len(bs))
	for i, b := range bs {
		arr[i] = Blob(b)
	}
	return Value{kind: KindArray, elem: KindBlob, arr: arr}
}

func TimestampArray(ts []time.Time) Value {
	arr := make([]Value, len(ts))
	for i, t := range ts {
		arr[i] = Timestamp(t)
	}
	return Value{kind: KindArray, elem: KindTimestamp, arr: arr}
}

// EmptyArray is the sentinel produced when the cloud reports an array
// endpoint as null or absent. Its element kind is unknown; the comparator
// treats any two empty arrays as equal.
func EmptyArray() Value {
	return Value{kind: KindArray, elem: KindInvalid, arr: nil}
}

// Array builds a homogeneous array from already constructed scalar values.
func Array(elems []Value) (Value, error) {
	if len(elems) == 0 {
		return EmptyArray(), nil
	}
	elem := elems[0].kind
	if elem == KindArray || elem == KindInvalid {
		return Value{}, fmt.Errorf("array elements must be scalar, got %s", elem)
	}
	for i, e := range elems {
		if e.kind != elem {
			return Value{}, fmt.Errorf("mixed array: element %d is %s, expected %s", i, e.kind, elem)
		}
	}
	return Value{kind: KindArray, elem: elem, arr: elems}, nil
}

func (v Value) Kind() Kind { return v.kind }

// Len reports the number of elements of an array value, zero otherwise.
func (v Value) Len() int { return len(v.arr) }

// Interface returns the native Go representation: bool, int64, float64,
// string, []byte, time.Time or []any for arrays.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInteger:
		return v.i
	case KindDouble:
		return v.f
	case KindString:
		return v.s
	case KindBlob:
		return v.blob
	case KindTimestamp:
		return v.t
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

func (v Value) String() string {
	return fmt.Sprintf("%s(%v)", v.kind, v.Interface())
}
