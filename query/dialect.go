package query

import (
	"strconv"

	"github.com/Masterminds/semver/v3"
	"hermannm.dev/enumnames"
	"hermannm.dev/wrap"
)

type Flavor uint8

const (
	FlavorElasticsearch Flavor = iota + 1
	FlavorOpenSearch
)

var flavorMap = enumnames.NewMap(map[Flavor]string{
	FlavorElasticsearch: "elasticsearch",
	FlavorOpenSearch:    "opensearch",
})

func (flavor Flavor) IsValid() bool {
	return flavorMap.ContainsEnumValue(flavor)
}

func (flavor Flavor) String() string {
	return flavorMap.GetNameOrFallback(flavor, "INVALID_FLAVOR")
}

func (flavor Flavor) MarshalJSON() ([]byte, error) {
	return flavorMap.MarshalToNameJSON(flavor)
}

func (flavor *Flavor) UnmarshalJSON(bytes []byte) error {
	return flavorMap.UnmarshalFromNameJSON(bytes, flavor)
}

// UnmarshalText parses a flavor name, for reading flavors from environment variables.
func (flavor *Flavor) UnmarshalText(text []byte) error {
	return flavorMap.UnmarshalFromNameJSON([]byte(strconv.Quote(string(text))), flavor)
}

// Dialect identifies the backend a query is compiled for. A nil Version is treated as the newest
// version of the flavor.
type Dialect struct {
	Flavor  Flavor
	Version *semver.Version
}

func NewDialect(flavor Flavor, version string) (Dialect, error) {
	dialect := Dialect{Flavor: flavor}
	if version == "" {
		return dialect, nil
	}

	parsed, err := semver.NewVersion(version)
	if err != nil {
		return Dialect{}, wrap.Errorf(err, "invalid %s version '%s'", flavor, version)
	}
	dialect.Version = parsed
	return dialect, nil
}

// Capabilities is the version-dependent syntax of a dialect.
type Capabilities struct {
	// Reserved terms-aggregation ordering key for "order by bucket key".
	TermsOrderKey string
	// Whether document queries must list fields explicitly.
	SupportsFieldsList bool
	// Whether msearch headers accept max_concurrent_shard_requests.
	SupportsMaxConcurrentShardRequests bool
}

var (
	elasticsearch5   = semver.MustParse("5.0.0")
	elasticsearch5_6 = semver.MustParse("5.6.0")
	elasticsearch6   = semver.MustParse("6.0.0")
	elasticsearch7   = semver.MustParse("7.0.0")
)

func (dialect Dialect) Capabilities() Capabilities {
	capabilities := Capabilities{TermsOrderKey: "_key"}

	if dialect.Flavor == FlavorOpenSearch {
		capabilities.SupportsMaxConcurrentShardRequests = true
		return capabilities
	}

	if dialect.Version == nil {
		return capabilities
	}

	if dialect.Version.LessThan(elasticsearch6) {
		capabilities.TermsOrderKey = "_term"
	}
	if dialect.Version.LessThan(elasticsearch5) {
		capabilities.SupportsFieldsList = true
	}
	if !dialect.Version.LessThan(elasticsearch5_6) && dialect.Version.LessThan(elasticsearch7) {
		capabilities.SupportsMaxConcurrentShardRequests = true
	}

	return capabilities
}
