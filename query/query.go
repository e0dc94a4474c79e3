package query

import (
	"fmt"
	"strings"
)

// Query is the declarative definition of an analytical query: group documents by the nested
// bucket aggregations, then compute the metric aggregations per group.
//
// Compilers and decoders only read from a Query, so one value can be shared between concurrent
// calls.
type Query struct {
	RefID     string    `json:"refId,omitempty"`
	QueryType QueryType `json:"queryType,omitempty"`
	// Output format for PPL queries.
	Format      Format `json:"format,omitempty"`
	QueryString string `json:"query"`
	// Template for naming output series, with {{placeholder}} syntax.
	Alias              string              `json:"alias,omitempty"`
	TimeField          string              `json:"timeField"`
	BucketAggregations []BucketAggregation `json:"bucketAggs"`
	MetricAggregations []MetricAggregation `json:"metrics"`
}

type BucketAggregation struct {
	ID       string
	Field    string
	Settings BucketSettings
}

func (agg BucketAggregation) Kind() BucketKind {
	if agg.Settings == nil {
		return 0
	}
	return agg.Settings.Kind()
}

// BucketSettings is implemented only by the settings types in this package, one per BucketKind.
type BucketSettings interface {
	Kind() BucketKind
	bucketSettings()
}

type TermsSettings struct {
	// 0 means the default size.
	Size    int
	Order   SortOrder
	OrderBy TermsOrderBy
	// nil leaves the backend default.
	MinDocCount *int
	Missing     string
}

type HistogramSettings struct {
	Interval    string
	MinDocCount int
	Missing     string
}

type DateHistogramSettings struct {
	// "auto" lets the caller pick the bucket width when resolving placeholders.
	Interval    string
	MinDocCount int
	// Number of points to drop from each end of decoded series.
	TrimEdges int
	Offset    string
	Missing   string
}

type FiltersSettings struct {
	Filters []Filter
}

type Filter struct {
	Query string `json:"query"`
	Label string `json:"label"`
}

// Name is the key of the filter's bucket: the label if set, otherwise the query itself.
func (filter Filter) Name() string {
	if filter.Label != "" {
		return filter.Label
	}
	return filter.Query
}

type GeoHashGridSettings struct {
	Precision int
}

func (TermsSettings) Kind() BucketKind         { return BucketKindTerms }
func (HistogramSettings) Kind() BucketKind     { return BucketKindHistogram }
func (DateHistogramSettings) Kind() BucketKind { return BucketKindDateHistogram }
func (FiltersSettings) Kind() BucketKind       { return BucketKindFilters }
func (GeoHashGridSettings) Kind() BucketKind   { return BucketKindGeoHashGrid }

func (TermsSettings) bucketSettings()         {}
func (HistogramSettings) bucketSettings()     {}
func (DateHistogramSettings) bucketSettings() {}
func (FiltersSettings) bucketSettings()       {}
func (GeoHashGridSettings) bucketSettings()   {}

type orderByKind uint8

const (
	orderByUnset orderByKind = iota
	orderByTerm
	orderByCount
	orderByMetric
)

// TermsOrderBy is what a terms aggregation orders its buckets by: the bucket key, the document
// count, or the value of another metric in the query.
type TermsOrderBy struct {
	kind     orderByKind
	metricID string
}

func OrderByTerm() TermsOrderBy {
	return TermsOrderBy{kind: orderByTerm}
}

func OrderByCount() TermsOrderBy {
	return TermsOrderBy{kind: orderByCount}
}

func OrderByMetric(metricID string) TermsOrderBy {
	return TermsOrderBy{kind: orderByMetric, metricID: metricID}
}

// ParseTermsOrderBy reads the editor's orderBy setting: "_term"/"_key", "_count", or a numeric
// metric ID.
func ParseTermsOrderBy(value string) (TermsOrderBy, error) {
	switch value {
	case "":
		return TermsOrderBy{}, nil
	case "_term", "_key":
		return OrderByTerm(), nil
	case CountBucketPath:
		return OrderByCount(), nil
	}

	for _, char := range value {
		if char < '0' || char > '9' {
			return TermsOrderBy{}, &InvalidSortFieldError{Field: value}
		}
	}
	return OrderByMetric(value), nil
}

func (orderBy TermsOrderBy) IsSet() bool {
	return orderBy.kind != orderByUnset
}

func (orderBy TermsOrderBy) IsTerm() bool {
	return orderBy.kind == orderByTerm
}

func (orderBy TermsOrderBy) IsCount() bool {
	return orderBy.kind == orderByCount
}

func (orderBy TermsOrderBy) MetricID() (id string, ok bool) {
	return orderBy.metricID, orderBy.kind == orderByMetric
}

type MetricAggregation struct {
	ID    string
	Field string
	// Hidden metrics are still sent to the backend (other metrics may reference them), but produce
	// no output series.
	Hide     bool
	Settings MetricSettings
}

func (metric MetricAggregation) Kind() MetricKind {
	if metric.Settings == nil {
		return MetricKindCount
	}
	return metric.Settings.Kind()
}

// MetricSettings is implemented only by the settings types in this package. Extra fields hold
// kind-specific settings that are passed to the backend verbatim.
type MetricSettings interface {
	Kind() MetricKind
	metricSettings()
}

type CountSettings struct{}

// FieldStatSettings covers the single-value field statistics: avg, sum, min, max and cardinality.
type FieldStatSettings struct {
	Type  MetricKind
	Extra map[string]any
}

type PercentilesSettings struct {
	Percents []string
	Extra    map[string]any
}

type ExtendedStatsSettings struct {
	// Statistics to produce output for.
	Stats []ExtendedStat
	Extra map[string]any
}

// PipelineSettings covers the pipeline kinds with a single input: moving_avg, derivative and
// cumulative_sum.
type PipelineSettings struct {
	Type  MetricKind
	Ref   Reference
	Extra map[string]any
}

type BucketScriptSettings struct {
	Script string
	// nil means the variable mapping is missing altogether, which drops the metric from compiled
	// queries.
	Variables []PipelineVariable
	Extra     map[string]any
}

type PipelineVariable struct {
	Name string
	Ref  Reference
}

// DocumentSettings covers the kinds that fetch raw documents instead of aggregating:
// raw_document, raw_data and logs.
type DocumentSettings struct {
	Type MetricKind
	// 0 means the default size.
	Size         int
	Order        SortOrder
	UseTimeRange bool
}

func (CountSettings) Kind() MetricKind              { return MetricKindCount }
func (settings FieldStatSettings) Kind() MetricKind { return settings.Type }
func (PercentilesSettings) Kind() MetricKind        { return MetricKindPercentiles }
func (ExtendedStatsSettings) Kind() MetricKind      { return MetricKindExtendedStats }
func (settings PipelineSettings) Kind() MetricKind  { return settings.Type }
func (BucketScriptSettings) Kind() MetricKind       { return MetricKindBucketScript }
func (settings DocumentSettings) Kind() MetricKind  { return settings.Type }

func (CountSettings) metricSettings()         {}
func (FieldStatSettings) metricSettings()     {}
func (PercentilesSettings) metricSettings()   {}
func (ExtendedStatsSettings) metricSettings() {}
func (PipelineSettings) metricSettings()      {}
func (BucketScriptSettings) metricSettings()  {}
func (DocumentSettings) metricSettings()      {}

const (
	DefaultMetricID = "1"
	DefaultBucketID = "2"
	// Interval value that defers the bucket width to the caller.
	AutoInterval = "auto"
)

var DefaultExtendedStats = []ExtendedStat{
	ExtendedStatStdDeviationBoundsUpper,
	ExtendedStatStdDeviationBoundsLower,
}

func DefaultMetric() MetricAggregation {
	return MetricAggregation{ID: DefaultMetricID, Settings: CountSettings{}}
}

func DefaultBucket() BucketAggregation {
	return BucketAggregation{
		ID:       DefaultBucketID,
		Settings: DateHistogramSettings{Interval: AutoInterval},
	}
}

// WithDefaults returns a copy of the query where an empty metric list is replaced by a count
// metric, and a missing (nil) bucket list by a date histogram. An explicitly empty bucket list is
// kept, as are the buckets of document queries.
func (query Query) WithDefaults() Query {
	if len(query.MetricAggregations) == 0 {
		query.MetricAggregations = []MetricAggregation{DefaultMetric()}
	}
	if query.BucketAggregations == nil && !query.IsDocumentQuery() {
		query.BucketAggregations = []BucketAggregation{DefaultBucket()}
	}
	return query
}

// DocumentMetric returns the query's document-fetching metric, if that is its first metric.
func (query Query) DocumentMetric() (settings DocumentSettings, ok bool) {
	if len(query.MetricAggregations) == 0 {
		return DocumentSettings{}, false
	}
	settings, ok = query.MetricAggregations[0].Settings.(DocumentSettings)
	return settings, ok
}

func (query Query) IsDocumentQuery() bool {
	_, ok := query.DocumentMetric()
	return ok
}

// Validate checks that aggregation IDs are unique.
func (query Query) Validate() []error {
	var errs []error

	bucketIDs := make(map[string]struct{}, len(query.BucketAggregations))
	for i, agg := range query.BucketAggregations {
		if _, duplicate := bucketIDs[agg.ID]; duplicate {
			errs = append(errs, fmt.Errorf("bucket aggregation %d has duplicate ID '%s'", i, agg.ID))
		}
		bucketIDs[agg.ID] = struct{}{}

		if agg.Settings == nil {
			errs = append(errs, fmt.Errorf("bucket aggregation '%s' has no kind", agg.ID))
		}
	}

	metricIDs := make(map[string]struct{}, len(query.MetricAggregations))
	for i, metric := range query.MetricAggregations {
		if _, duplicate := metricIDs[metric.ID]; duplicate {
			errs = append(errs, fmt.Errorf("metric %d has duplicate ID '%s'", i, metric.ID))
		}
		metricIDs[metric.ID] = struct{}{}
	}

	return errs
}

func FindMetric(metrics []MetricAggregation, id string) (MetricAggregation, bool) {
	for _, metric := range metrics {
		if metric.ID == id {
			return metric, true
		}
	}
	return MetricAggregation{}, false
}

// CountMetricsOfKind counts the metrics in the list with the given kind.
func CountMetricsOfKind(metrics []MetricAggregation, kind MetricKind) int {
	count := 0
	for _, metric := range metrics {
		if metric.Kind() == kind {
			count++
		}
	}
	return count
}

// DescribeMetric gives a short human-readable description of a metric, like "Average bytes".
func DescribeMetric(metric MetricAggregation) string {
	return strings.TrimSpace(metric.Kind().Label() + " " + metric.Field)
}
