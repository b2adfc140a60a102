package schema

import (
	"github.com/dgallion1/mapread/internal/mapping"
)

// Version identifies one supported revision of the modern mapping schema.
type Version string

const (
	Version10 Version = "1.0"
	Version20 Version = "2.0"
	Version21 Version = "2.1"
)

// AssumedVersion is used when a document does not state its version.
const AssumedVersion = Version21

var resources = map[Version]string{
	Version10: "org/hibernate/jpa/orm_1_0.xsd",
	Version20: "org/hibernate/jpa/orm_2_0.xsd",
	Version21: "org/hibernate/jpa/orm_2_1.xsd",
}

// SupportedVersions lists the supported versions in ascending order.
func SupportedVersions() []Version {
	return []Version{Version10, Version20, Version21}
}

// Resource names the schema definition backing v, or "" for an unknown version.
func (v Version) Resource() string {
	return resources[v]
}

func (v Version) String() string { return string(v) }

// ResolveVersion maps a version token to a supported version. When present
// is false the token is ignored and AssumedVersion is returned. Tokens are
// matched exactly.
func ResolveVersion(token string, present bool, origin mapping.Origin) (Version, error) {
	if !present {
		return AssumedVersion, nil
	}
	v := Version(token)
	if _, ok := resources[v]; !ok {
		return "", &mapping.UnsupportedVersionError{Origin: origin, Token: token}
	}
	return v, nil
}
