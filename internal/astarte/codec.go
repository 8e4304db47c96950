package astarte

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// payloadField is the single field name wrapping every shell payload document.
const payloadField = "v"

// ObjectField is one named entry of an aggregate payload.
type ObjectField struct {
	Name  string
	Value Value
}

// EncodeShellPayload wraps the value in a BSON document under "v" and
// base64-encodes it for embedding in a device shell command line.
func EncodeShellPayload(v Value) (string, error) {
	wire, err := v.bsonValue()
	if err != nil {
		return "", err
	}
	return marshalShellDocument(wire)
}

// EncodeShellObject encodes an aggregate's fields as a single BSON
// sub-document under "v", preserving field order.
func EncodeShellObject(fields []ObjectField) (string, error) {
	doc := make(bson.D, 0, len(fields))
	for _, f := range fields {
		wire, err := f.Value.bsonValue()
		if err != nil {
			return "", fmt.Errorf("field %s: %w", f.Name, err)
		}
		doc = append(doc, bson.E{Key: f.Name, Value: wire})
	}
	return marshalShellDocument(doc)
}

func marshalShellDocument(wire any) (string, error) {
	raw, err := bson.Marshal(bson.D{{Key: payloadField, Value: wire}})
	if err != nil {
		return "", fmt.Errorf("marshaling shell payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeShellPayload is the inverse of EncodeShellPayload. The BSON document
// is self-describing, so no field name hint is needed.
func DecodeShellPayload(payload string) (Value, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Value{}, fmt.Errorf("decoding base64 payload: %w", err)
	}
	doc := bson.Raw(raw)
	if err := doc.Validate(); err != nil {
		return Value{}, fmt.Errorf("invalid BSON payload: %w", err)
	}
	rv, err := doc.LookupErr(payloadField)
	if err != nil {
		return Value{}, fmt.Errorf("shell payload missing %q field: %w", payloadField, err)
	}
	return valueFromBSON(rv)
}

// DecodeShellObject decodes an aggregate payload back into its named fields.
func DecodeShellObject(payload string) ([]ObjectField, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 payload: %w", err)
	}
	doc := bson.Raw(raw)
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid BSON payload: %w", err)
	}
	rv, err := doc.LookupErr(payloadField)
	if err != nil {
		return nil, fmt.Errorf("shell payload missing %q field: %w", payloadField, err)
	}
	sub, ok := rv.DocumentOK()
	if !ok {
		return nil, fmt.Errorf("shell payload %q is %s, expected document", payloadField, rv.Type)
	}
	elems, err := sub.Elements()
	if err != nil {
		return nil, fmt.Errorf("reading object payload: %w", err)
	}
	fields := make([]ObjectField, 0, len(elems))
	for _, e := range elems {
		v, err := valueFromBSON(e.Value())
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", e.Key(), err)
		}
		fields = append(fields, ObjectField{Name: e.Key(), Value: v})
	}
	return fields, nil
}

func (v Value) bsonValue() (any, error) {
	switch v.kind {
	case KindBool:
		return v.b, nil
	case KindInteger:
		return v.i, nil
	case KindDouble:
		return v.f, nil
	case KindString:
		return v.s, nil
	case KindBlob:
		return primitive.Binary{Subtype: 0x00, Data: v.blob}, nil
	case KindTimestamp:
		return primitive.NewDateTimeFromTime(v.t), nil
	case KindArray:
		arr := make(bson.A, len(v.arr))
		for i, e := range v.arr {
			wire, err := e.bsonValue()
			if err != nil {
				return nil, err
			}
			arr[i] = wire
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("cannot encode %s value", v.kind)
	}
}

func valueFromBSON(rv bson.RawValue) (Value, error) {
	switch rv.Type {
	case bsontype.Boolean:
		return Bool(rv.Boolean()), nil
	case bsontype.Int32:
		return Integer(int64(rv.Int32())), nil
	case bsontype.Int64:
		return Integer(rv.Int64()), nil
	case bsontype.Double:
		return Double(rv.Double()), nil
	case bsontype.String:
		return String(rv.StringValue()), nil
	case bsontype.Binary:
		_, data := rv.Binary()
		return Blob(data), nil
	case bsontype.DateTime:
		return Timestamp(rv.Time()), nil
	case bsontype.Array:
		raws, err := rv.Array().Values()
		if err != nil {
			return Value{}, fmt.Errorf("reading BSON array: %w", err)
		}
		elems := make([]Value, len(raws))
		for i, r := range raws {
			elems[i], err = valueFromBSON(r)
			if err != nil {
				return Value{}, err
			}
		}
		return Array(elems)
	default:
		return Value{}, fmt.Errorf("unsupported BSON type %s", rv.Type)
	}
}

// fieldRule is one entry of the name-driven conversion table. The cloud API
// does not expose the interface schema here, so conversions key on the
// literal endpoint name, exactly as the platform serializes them: 64-bit
// integers as JSON strings, datetimes as ISO-8601 strings, blobs as base64.
type fieldRule struct {
	decode   func(raw any) (Value, error)
	transmit func(v Value) (any, error)
}

var fieldRules = map[string]fieldRule{
	"longinteger_endpoint":      {decode: decodeLongInteger},
	"longintegerarray_endpoint": {decode: arrayDecoder(decodeLongInteger)},
	"datetime_endpoint":         {decode: decodeDatetime},
	"datetimearray_endpoint":    {decode: arrayDecoder(decodeDatetime)},
	"binaryblob_endpoint":       {decode: decodeBlob, transmit: transmitBlob},
	"binaryblobarray_endpoint":  {decode: arrayDecoder(decodeBlob), transmit: transmitBlobArray},
}

// arrayEndpointSuffix marks endpoints whose absent cloud value is reported as
// an empty array rather than as missing data.
const arrayEndpointSuffix = "array_endpoint"

// PrepareTransmit converts a value to the JSON-safe representation expected
// by the cloud API when posting server-owned data. Only blobs need explicit
// handling; everything else is accepted natively.
func PrepareTransmit(field string, v Value) (any, error) {
	if rule, ok := fieldRules[field]; ok && rule.transmit != nil {
		return rule.transmit(v)
	}
	return v.Interface(), nil
}

// DecodeCloudValue maps a value returned by the cloud API query back into a
// domain Value, applying the endpoint-name conversion table.
func DecodeCloudValue(raw any, field string) (Value, error) {
	if raw == nil && strings.HasSuffix(field, arrayEndpointSuffix) {
		return EmptyArray(), nil
	}
	if rule, ok := fieldRules[field]; ok && rule.decode != nil {
		return rule.decode(raw)
	}
	return decodeGeneric(raw, field)
}

func decodeLongInteger(raw any) (Value, error) {
	switch n := raw.(type) {
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing longinteger %q: %w", n, err)
		}
		return Integer(i), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return Value{}, fmt.Errorf("parsing longinteger %q: %w", n, err)
		}
		return Integer(i), nil
	default:
		return Value{}, fmt.Errorf("longinteger value has type %T, expected string", raw)
	}
}

func decodeDatetime(raw any) (Value, error) {
	s, ok := raw.(string)
	if !ok {
		return Value{}, fmt.Errorf("datetime value has type %T, expected string", raw)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Value{}, fmt.Errorf("parsing datetime %q: %w", s, err)
	}
	return Timestamp(t), nil
}

func decodeBlob(raw any) (Value, error) {
	s, ok := raw.(string)
	if !ok {
		return Value{}, fmt.Errorf("binaryblob value has type %T, expected string", raw)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Value{}, fmt.Errorf("decoding binaryblob: %w", err)
	}
	return Blob(data), nil
}

func arrayDecoder(scalar func(raw any) (Value, error)) func(raw any) (Value, error) {
	return func(raw any) (Value, error) {
		items, ok := raw.([]any)
		if !ok {
			return Value{}, fmt.Errorf("array value has type %T, expected list", raw)
		}
		elems := make([]Value, len(items))
		for i, item := range items {
			v, err := scalar(item)
			if err != nil {
				return Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			elems[i] = v
		}
		return Array(elems)
	}
}

func transmitBlob(v Value) (any, error) {
	if v.kind != KindBlob {
		return nil, fmt.Errorf("binaryblob endpoint carries %s value", v.kind)
	}
	return base64.StdEncoding.EncodeToString(v.blob), nil
}

func transmitBlobArray(v Value) (any, error) {
	if v.kind != KindArray || (v.elem != KindBlob && len(v.arr) > 0) {
		return nil, fmt.Errorf("binaryblobarray endpoint carries %s value", v.kind)
	}
	out := make([]string, len(v.arr))
	for i, e := range v.arr {
		out[i] = base64.StdEncoding.EncodeToString(e.blob)
	}
	return out, nil
}

// promoteNumericArray widens integers to doubles when a decoded array mixes
// the two. JSON cannot tell 10 from 10.0, so a double array holding a round
// value would otherwise decode as a mixed array.
func promoteNumericArray(elems []Value) {
	hasDouble := false
	for _, e := range elems {
		if e.kind == KindDouble {
			hasDouble = true
			break
		}
	}
	if !hasDouble {
		return
	}
	for i, e := range elems {
		if e.kind == KindInteger {
			elems[i] = Double(float64(e.i))
		}
	}
}

// decodeGeneric handles endpoints outside the conversion table, where the
// JSON representation maps directly onto a domain kind.
func decodeGeneric(raw any, field string) (Value, error) {
	switch val := raw.(type) {
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return Integer(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("parsing number %q: %w", val, err)
		}
		return Double(f), nil
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < math.MaxInt64 {
			return Integer(int64(val)), nil
		}
		return Double(val), nil
	case int64:
		return Integer(val), nil
	case int:
		return Integer(int64(val)), nil
	case []any:
		elems := make([]Value, len(val))
		for i, item := range val {
			v, err := decodeGeneric(item, field)
			if err != nil {
				return Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			elems[i] = v
		}
		promoteNumericArray(elems)
		return Array(elems)
	default:
		return Value{}, fmt.Errorf("unsupported cloud value of type %T for %s", raw, field)
	}
}
