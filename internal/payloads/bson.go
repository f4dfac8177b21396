// Package payloads holds the pure, dependency-light decoders the data
// updater calls before any database or trigger work happens: BSON device
// values, safe-bounded zlib inflate, device-properties path lists and
// introspection strings.
package payloads

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
)

// DecodedValue is the result of decoding one data-message BSON payload.
type DecodedValue struct {
	Value     any // nil for an explicit unset, a Go scalar/slice/map otherwise
	Timestamp *time.Time
	Metadata  map[string]any
}

// DecodeValue implements the five accepted shapes of the data-message BSON
// payload: {v, t, m} | {v, m} | {v, t} | {v} | a bare map (legacy aggregated
// object with no envelope). An empty payload decodes to a nil DecodedValue.
// Any other shape is an undecodable_bson_payload HandlingError.
func DecodeValue(raw []byte) (*DecodedValue, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, model.Discard(model.ErrUndecodableBSONPayload, err)
	}

	v, hasV := doc["v"]
	if !hasV {
		// Legacy aggregated object: the whole document is the value, with
		// no {v,t,m} envelope.
		return &DecodedValue{Value: normalizeLeaf(doc)}, nil
	}

	out := &DecodedValue{Value: normalizeLeaf(v)}

	if t, ok := doc["t"]; ok {
		ts, ok := t.(primitive.DateTime)
		if !ok {
			return nil, model.Discard(model.ErrUndecodableBSONPayload, errUnexpectedTimestampType)
		}
		tv := ts.Time()
		out.Timestamp = &tv
	}

	if m, ok := doc["m"]; ok {
		meta, ok := m.(bson.M)
		if !ok {
			return nil, model.Discard(model.ErrUndecodableBSONPayload, errUnexpectedMetadataType)
		}
		out.Metadata = map[string]any(meta)
	}

	if bin, ok := out.Value.(primitive.Binary); ok && len(bin.Data) == 0 && bin.Subtype == 0 {
		out.Value = nil // explicit unset, spec.md §4.2.3 step 5
	}

	return out, nil
}

var (
	errUnexpectedTimestampType = bsonShapeError("field \"t\" is not a BSON UTC datetime")
	errUnexpectedMetadataType  = bsonShapeError("field \"m\" is not a BSON document")
)

type bsonShapeError string

func (e bsonShapeError) Error() string { return string(e) }

// normalizeLeaf recurses into bson.M/bson.A so that nested documents and
// arrays returned from the driver come back as plain map[string]any/[]any,
// which the rest of the updater pipeline works with.
func normalizeLeaf(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalizeLeaf(vv)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = normalizeLeaf(vv)
		}
		return out
	default:
		return v
	}
}

// CheckValueType validates a decoded leaf value against a mapping's declared
// value_type, per spec.md §4.2.3 step 6. bson.UTC and bson.Bin are valid
// leaf types in addition to the scalar types; anything else is
// unexpected_value_type.
func CheckValueType(value any, vt model.ValueType) error {
	if value == nil {
		return nil // unset/nil is always acceptable here; allow_unset is checked by the caller
	}

	switch vt {
	case model.ValueTypeDouble:
		if _, ok := value.(float64); !ok {
			return model.Discard(model.ErrUnexpectedValueType, typeMismatch("double", value))
		}
	case model.ValueTypeInteger:
		if !isInt32(value) {
			return model.Discard(model.ErrUnexpectedValueType, typeMismatch("integer", value))
		}
	case model.ValueTypeLongInteger:
		if !isInt64(value) {
			return model.Discard(model.ErrUnexpectedValueType, typeMismatch("longinteger", value))
		}
	case model.ValueTypeBoolean:
		if _, ok := value.(bool); !ok {
			return model.Discard(model.ErrUnexpectedValueType, typeMismatch("boolean", value))
		}
	case model.ValueTypeString:
		if _, ok := value.(string); !ok {
			return model.Discard(model.ErrUnexpectedValueType, typeMismatch("string", value))
		}
	case model.ValueTypeBinaryBlob:
		if _, ok := value.(primitive.Binary); !ok {
			return model.Discard(model.ErrUnexpectedValueType, typeMismatch("binaryblob", value))
		}
	case model.ValueTypeDatetime:
		if _, ok := value.(primitive.DateTime); !ok {
			return model.Discard(model.ErrUnexpectedValueType, typeMismatch("datetime", value))
		}
	case model.ValueTypeDoubleArray, model.ValueTypeIntegerArray, model.ValueTypeBooleanArray,
		model.ValueTypeLongIntegerArray, model.ValueTypeStringArray, model.ValueTypeBinaryBlobArray,
		model.ValueTypeDatetimeArray:
		if _, ok := value.([]any); !ok {
			return model.Discard(model.ErrUnexpectedValueType, typeMismatch("array", value))
		}
	}
	return nil
}

func isInt32(v any) bool {
	switch v.(type) {
	case int32, int:
		return true
	}
	return false
}

func isInt64(v any) bool {
	switch v.(type) {
	case int64, int32, int:
		return true
	}
	return false
}

func typeMismatch(want string, got any) error {
	return bsonShapeError("expected " + want + " value")
}
