package payloads

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
)

// interfaceNamePattern constrains introspection interface names the way
// Astarte's own schema does: reverse-DNS-style dotted identifiers.
var interfaceNamePattern = regexp.MustCompile(`^[a-zA-Z]+(\.[a-zA-Z0-9]+)*$`)

// InterfaceVersion is one entry of a device's introspection string.
type InterfaceVersion struct {
	Name  string
	Major int
	Minor int
}

// ParseIntrospection decodes the UTF-8 "name:major:minor[;name:major:minor…]"
// introspection payload. Any malformed entry, out-of-range version, or
// invalid interface name is an invalid_introspection HandlingError.
func ParseIntrospection(payload string) ([]InterfaceVersion, error) {
	payload = strings.TrimSuffix(payload, ";")
	if payload == "" {
		return nil, nil
	}

	entries := strings.Split(payload, ";")
	out := make([]InterfaceVersion, 0, len(entries))
	for _, e := range entries {
		parts := strings.Split(e, ":")
		if len(parts) != 3 {
			return nil, model.Discard(model.ErrInvalidIntrospection, bsonShapeError("malformed introspection entry: "+e))
		}
		name, majorStr, minorStr := parts[0], parts[1], parts[2]
		if !interfaceNamePattern.MatchString(name) {
			return nil, model.Discard(model.ErrInvalidIntrospection, bsonShapeError("invalid interface name: "+name))
		}
		major, err := strconv.Atoi(majorStr)
		if err != nil || major < 0 {
			return nil, model.Discard(model.ErrInvalidIntrospection, bsonShapeError("invalid major version: "+majorStr))
		}
		minor, err := strconv.Atoi(minorStr)
		if err != nil || minor < 0 {
			return nil, model.Discard(model.ErrInvalidIntrospection, bsonShapeError("invalid minor version: "+minorStr))
		}
		out = append(out, InterfaceVersion{Name: name, Major: major, Minor: minor})
	}
	return out, nil
}
