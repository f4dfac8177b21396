package payloads

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestDecodeValue_AllShapes(t *testing.T) {
	t.Run("empty payload", func(t *testing.T) {
		v, err := DecodeValue(nil)
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("bare value", func(t *testing.T) {
		raw, err := bson.Marshal(bson.M{"v": int32(42)})
		require.NoError(t, err)
		v, err := DecodeValue(raw)
		require.NoError(t, err)
		assert.Equal(t, int32(42), v.Value)
		assert.Nil(t, v.Timestamp)
		assert.Nil(t, v.Metadata)
	})

	t.Run("value with explicit timestamp", func(t *testing.T) {
		ts := primitive.NewDateTimeFromTime(time.Unix(1000, 0))
		raw, err := bson.Marshal(bson.M{"v": 3.14, "t": ts})
		require.NoError(t, err)
		v, err := DecodeValue(raw)
		require.NoError(t, err)
		assert.Equal(t, 3.14, v.Value)
		require.NotNil(t, v.Timestamp)
	})

	t.Run("value with metadata", func(t *testing.T) {
		raw, err := bson.Marshal(bson.M{"v": "hello", "m": bson.M{"k": "v"}})
		require.NoError(t, err)
		v, err := DecodeValue(raw)
		require.NoError(t, err)
		assert.Equal(t, "hello", v.Value)
		assert.Equal(t, "v", v.Metadata["k"])
	})

	t.Run("legacy bare map object", func(t *testing.T) {
		raw, err := bson.Marshal(bson.M{"a": int32(1), "b": int32(2)})
		require.NoError(t, err)
		v, err := DecodeValue(raw)
		require.NoError(t, err)
		m, ok := v.Value.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, int32(1), m["a"])
	})

	t.Run("explicit unset binary", func(t *testing.T) {
		raw, err := bson.Marshal(bson.M{"v": primitive.Binary{Subtype: 0, Data: []byte{}}})
		require.NoError(t, err)
		v, err := DecodeValue(raw)
		require.NoError(t, err)
		assert.Nil(t, v.Value)
	})

	t.Run("undecodable payload", func(t *testing.T) {
		_, err := DecodeValue([]byte{0xFF, 0x00, 0x01})
		require.Error(t, err)
	})
}

func buildControlPayload(t *testing.T, plain string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write([]byte(plain))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var out bytes.Buffer
	sizePrefix := make([]byte, 4)
	binary.BigEndian.PutUint32(sizePrefix, uint32(len(plain)))
	out.Write(sizePrefix)
	out.Write(buf.Bytes())
	return out.Bytes()
}

func TestSafeInflate_RoundTrip(t *testing.T) {
	payload := buildControlPayload(t, "com.example.Foo/bar")
	out, err := SafeInflate(payload)
	require.NoError(t, err)
	assert.Equal(t, "com.example.Foo/bar", string(out))
}

func TestSafeInflate_RejectsOversizedPrefix(t *testing.T) {
	payload := buildControlPayload(t, "x")
	binary.BigEndian.PutUint32(payload[:4], SafeInflateMax+1)
	_, err := SafeInflate(payload)
	assert.Error(t, err)
}

func TestSafeInflate_RejectsOversizedStream(t *testing.T) {
	big := bytes.Repeat([]byte("a"), SafeInflateMax+1024)
	payload := buildControlPayload(t, string(big))
	_, err := SafeInflate(payload)
	assert.Error(t, err)
}

func TestDecodeProducerProperties_EmptySentinel(t *testing.T) {
	set, err := DecodeProducerProperties([]byte{0, 0, 0, 0})
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestDecodeProducerProperties_ParsesEntries(t *testing.T) {
	payload := buildControlPayload(t, "com.X/p;com.Y/q/r")
	set, err := DecodeProducerProperties(payload)
	require.NoError(t, err)
	assert.Contains(t, set, PropertyPath{Interface: "com.X", Path: "/p"})
	assert.Contains(t, set, PropertyPath{Interface: "com.Y", Path: "/q/r"})
	assert.Len(t, set, 2)
}

func TestParseIntrospection(t *testing.T) {
	entries, err := ParseIntrospection("com.example.Foo:1:2;com.example.Bar:0:1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, InterfaceVersion{Name: "com.example.Foo", Major: 1, Minor: 2}, entries[0])
	assert.Equal(t, InterfaceVersion{Name: "com.example.Bar", Major: 0, Minor: 1}, entries[1])
}

func TestParseIntrospection_RejectsMalformed(t *testing.T) {
	_, err := ParseIntrospection("not-a-valid-entry")
	assert.Error(t, err)

	_, err = ParseIntrospection("1com.Bad:1:2")
	assert.Error(t, err)
}

func TestDiffIntrospection(t *testing.T) {
	previous := []NameMajor{{Name: "A", Major: 1}, {Name: "B", Major: 2}}
	next := []NameMajor{{Name: "A", Major: 1}, {Name: "C", Major: 1}}

	ops := DiffIntrospection(previous, next)

	var removed, inserted []NameMajor
	for _, op := range ops {
		if op.Insert {
			inserted = append(inserted, op.Entry)
		} else {
			removed = append(removed, op.Entry)
		}
	}

	assert.ElementsMatch(t, []NameMajor{{Name: "B", Major: 2}}, removed)
	assert.ElementsMatch(t, []NameMajor{{Name: "C", Major: 1}}, inserted)
}

func TestDiffIntrospection_Identical(t *testing.T) {
	same := []NameMajor{{Name: "A", Major: 1}}
	ops := DiffIntrospection(same, same)
	assert.Empty(t, ops)
}
