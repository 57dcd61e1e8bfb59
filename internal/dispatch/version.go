package dispatch

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ParseCoreVersion normalizes the version reported by the core. Build
// metadata is dropped and missing minor or patch parts are filled in.
// Strings that are not versions are returned trimmed.
func ParseCoreVersion(raw string) string {
	raw = strings.TrimSpace(raw)
	v, err := semver.NewVersion(raw)
	if err != nil {
		return raw
	}
	return semver.New(v.Major(), v.Minor(), v.Patch(), v.Prerelease(), "").String()
}
