package payloads

import (
	"bytes"
	"strings"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
)

// PropertyPath is one (interface, path) pair the device reports it still
// holds, as decoded from a "/producer/properties" control message.
type PropertyPath struct {
	Interface string
	Path      string
}

// emptyPropertiesPayload is the literal 4-zero-byte special case spec.md §4.2.5
// calls out: it prunes to the empty set without being a well-formed zlib
// stream, so it's checked before SafeInflate is attempted.
var emptyPropertiesPayload = []byte{0, 0, 0, 0}

// DecodeProducerProperties decodes a "/producer/properties" control payload
// into the set of (interface, path) pairs the device claims to still hold.
func DecodeProducerProperties(raw []byte) (map[PropertyPath]struct{}, error) {
	if bytes.Equal(raw, emptyPropertiesPayload) {
		return map[PropertyPath]struct{}{}, nil
	}

	inflated, err := SafeInflate(raw)
	if err != nil {
		return nil, err
	}

	return ParsePropertyList(string(inflated))
}

// ParsePropertyList parses the decompressed "iface1/path1;iface2/path2;…"
// string. An empty string decodes to an empty set.
func ParsePropertyList(s string) (map[PropertyPath]struct{}, error) {
	set := make(map[PropertyPath]struct{})
	if s == "" {
		return set, nil
	}

	for _, entry := range strings.Split(s, ";") {
		if entry == "" {
			continue
		}
		slash := strings.Index(entry, "/")
		if slash <= 0 {
			return nil, model.Discard(model.ErrInvalidProperties, bsonShapeError("malformed property entry: "+entry))
		}
		set[PropertyPath{Interface: entry[:slash], Path: entry[slash:]}] = struct{}{}
	}
	return set, nil
}

// EncodePropertyList renders a set of absolute paths back into the
// ";"-joined wire format, used when composing the consumer-properties
// control message for an /emptyCache resend (spec.md §6).
func EncodePropertyList(paths []string) string {
	return strings.Join(paths, ";")
}
