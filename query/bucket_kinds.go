package query

import "hermannm.dev/enumnames"

type BucketKind uint8

const (
	BucketKindTerms BucketKind = iota + 1
	BucketKindHistogram
	BucketKindDateHistogram
	BucketKindFilters
	BucketKindGeoHashGrid
)

// Names are the aggregation names used on the wire, both in query definitions and in compiled
// requests.
var bucketKindMap = enumnames.NewMap(map[BucketKind]string{
	BucketKindTerms:         "terms",
	BucketKindHistogram:     "histogram",
	BucketKindDateHistogram: "date_histogram",
	BucketKindFilters:       "filters",
	BucketKindGeoHashGrid:   "geohash_grid",
})

var bucketKindLabels = map[BucketKind]string{
	BucketKindTerms:         "Terms",
	BucketKindHistogram:     "Histogram",
	BucketKindDateHistogram: "Date Histogram",
	BucketKindFilters:       "Filters",
	BucketKindGeoHashGrid:   "Geo Hash Grid",
}

func (kind BucketKind) IsValid() bool {
	return bucketKindMap.ContainsEnumValue(kind)
}

func (kind BucketKind) String() string {
	return bucketKindMap.GetNameOrFallback(kind, "INVALID_BUCKET_KIND")
}

func (kind BucketKind) Label() string {
	return bucketKindLabels[kind]
}

// RequiresField is false only for kinds that either take the time field implicitly or group by
// free-text filters.
func (kind BucketKind) RequiresField() bool {
	return kind != BucketKindDateHistogram && kind != BucketKindFilters
}

func (kind BucketKind) MarshalJSON() ([]byte, error) {
	return bucketKindMap.MarshalToNameJSON(kind)
}

func (kind *BucketKind) UnmarshalJSON(bytes []byte) error {
	return bucketKindMap.UnmarshalFromNameJSON(bytes, kind)
}
