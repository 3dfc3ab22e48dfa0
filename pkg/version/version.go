// Package version provides Jeedom core version parsing and the behaviour
// switches that depend on it.
package version

import (
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
)

// ObjectsMethodRename is the first Jeedom version where the object::all API
// method is named jeeObject::all and equipment default to order 9999.
var ObjectsMethodRename = semver.MustParse("3.3.0")

// Jeedom is a parsed Jeedom core version.
type Jeedom struct {
	semver.Version
}

// Parse parses a version string as returned by the "version" API method
// ("4.4.9", "3.3", "4.0.0-beta").
func Parse(s string) (Jeedom, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Jeedom{}, fmt.Errorf("invalid Jeedom version: empty string")
	}
	v, err := semver.ParseTolerant(s)
	if err != nil {
		return Jeedom{}, fmt.Errorf("invalid Jeedom version %q: %w", s, err)
	}
	return Jeedom{Version: v}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Jeedom {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsZero reports whether the version is unknown.
func (v Jeedom) IsZero() bool {
	return v.Version.Equals(semver.Version{})
}

// Short returns "major.minor".
func (v Jeedom) Short() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// AtLeast reports whether v is the same as or newer than other, ignoring
// pre-release tags.
func (v Jeedom) AtLeast(other semver.Version) bool {
	cur := v.Version
	cur.Pre = nil
	return cur.GTE(other)
}

// apiRenames maps historical JSON-RPC method names to their current ones.
var apiRenames = map[string]string{
	"object::all": "jeeObject::all",
}

// APIMethod returns the name of method on this Jeedom version.
func (v Jeedom) APIMethod(method string) string {
	if renamed, ok := apiRenames[method]; ok && v.AtLeast(ObjectsMethodRename) {
		return renamed
	}
	return method
}

// DefaultEquipmentOrder returns the order field of a newly created
// equipment.
func (v Jeedom) DefaultEquipmentOrder() string {
	if v.AtLeast(ObjectsMethodRename) {
		return "9999"
	}
	return "0"
}
