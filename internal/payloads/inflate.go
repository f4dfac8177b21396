package payloads

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
)

// SafeInflateMax is the 10 MiB decompression cap spec.md §3 fixes as
// SAFE_INFLATE_MAX.
const SafeInflateMax = 10 * 1024 * 1024

// SafeInflate decodes the wire shape control messages share: a 4-byte
// big-endian uncompressed-size prefix followed by a zlib stream. It refuses
// to produce more than SafeInflateMax bytes regardless of what the prefix
// claims, so a forged or malicious size prefix can't be used to bypass the
// cap.
func SafeInflate(raw []byte) ([]byte, error) {
	if len(raw) < 4 {
		return nil, model.Discard(model.ErrInvalidProperties, errShortPayload)
	}

	declared := binary.BigEndian.Uint32(raw[:4])
	if declared > SafeInflateMax {
		return nil, model.Discard(model.ErrInvalidProperties, errDeclaredSizeTooLarge)
	}

	zr, err := zlib.NewReader(bytes.NewReader(raw[4:]))
	if err != nil {
		return nil, model.Discard(model.ErrInvalidProperties, err)
	}
	defer zr.Close()

	limited := io.LimitReader(zr, SafeInflateMax+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, model.Discard(model.ErrInvalidProperties, err)
	}
	if len(out) > SafeInflateMax {
		return nil, model.Discard(model.ErrInvalidProperties, errDecompressedTooLarge)
	}

	return out, nil
}

var (
	errShortPayload         = bsonShapeError("control payload shorter than the 4-byte size prefix")
	errDeclaredSizeTooLarge = bsonShapeError("declared uncompressed size exceeds the safe inflate cap")
	errDecompressedTooLarge = bsonShapeError("decompressed payload exceeds the safe inflate cap")
)

// EncodeControlPayload compresses s with zlib and prepends the 4-byte
// big-endian uncompressed-size prefix, the inverse of SafeInflate — used to
// compose the consumer-properties control message sent back to a device
// (spec.md §6).
func EncodeControlPayload(s string) ([]byte, error) {
	var buf bytes.Buffer

	sizePrefix := make([]byte, 4)
	binary.BigEndian.PutUint32(sizePrefix, uint32(len(s)))
	buf.Write(sizePrefix)

	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
