package query

// CountBucketPath is the reserved bucket path the backend resolves to a bucket's document count.
const CountBucketPath = "_count"

type referenceKind uint8

const (
	referenceUnset referenceKind = iota
	referenceByID
	referenceLiteral
)

// Reference points a pipeline metric at its input: either another metric in the same query, by ID,
// or a literal bucket path that is passed to the backend as-is.
type Reference struct {
	kind  referenceKind
	value string
}

func RefByID(metricID string) Reference {
	if metricID == "" {
		return Reference{}
	}
	return Reference{kind: referenceByID, value: metricID}
}

func RefLiteral(bucketPath string) Reference {
	if bucketPath == "" {
		return Reference{}
	}
	return Reference{kind: referenceLiteral, value: bucketPath}
}

func (ref Reference) IsSet() bool {
	return ref.kind != referenceUnset
}

// MetricID returns the referenced metric ID, if the reference is by ID.
func (ref Reference) MetricID() (id string, ok bool) {
	return ref.value, ref.kind == referenceByID
}

// Resolve returns the bucket path for the reference. References to count metrics resolve to
// CountBucketPath. ok is false when the referenced metric does not exist.
func (ref Reference) Resolve(metrics []MetricAggregation) (bucketPath string, ok bool) {
	switch ref.kind {
	case referenceLiteral:
		return ref.value, true
	case referenceByID:
		metric, found := FindMetric(metrics, ref.value)
		if !found {
			return "", false
		}
		if metric.Kind() == MetricKindCount {
			return CountBucketPath, true
		}
		return metric.ID, true
	default:
		return "", false
	}
}

func (ref Reference) String() string {
	return ref.value
}
