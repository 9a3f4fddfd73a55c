package versioning

import (
	"fmt"
	"strconv"
	"strings"
)

// HeaderAPIVersion carries the API version a client was written against
const HeaderAPIVersion = "X-API-Version"

// Current is the API version served by this build
var Current = APIVersion{Major: 1, Minor: 0}

type APIVersion struct {
	Major int
	Minor int
}

func (v APIVersion) String() string {
	return fmt.Sprintf("v%d.%d", v.Major, v.Minor)
}

// Supports reports whether a server at v can answer a client asking for req.
// Majors must match; a client may not ask for a newer minor.
func (v APIVersion) Supports(req APIVersion) bool {
	return req.Major == v.Major && req.Minor <= v.Minor
}

// ParseVersion "v1.2" -> APIVersion{1, 2}. An empty header means Current.
func ParseVersion(header string) (APIVersion, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Current, nil
	}

	clean := strings.TrimPrefix(strings.ToLower(header), "v")
	parts := strings.Split(clean, ".")
	if len(parts) > 2 {
		return APIVersion{}, fmt.Errorf("malformed API version %q", header)
	}

	major, err := strconv.Atoi(parts[0])
	if err != nil || major < 0 {
		return APIVersion{}, fmt.Errorf("malformed API version %q", header)
	}
	minor := 0
	if len(parts) == 2 {
		minor, err = strconv.Atoi(parts[1])
		if err != nil || minor < 0 {
			return APIVersion{}, fmt.Errorf("malformed API version %q", header)
		}
	}

	return APIVersion{Major: major, Minor: minor}, nil
}
