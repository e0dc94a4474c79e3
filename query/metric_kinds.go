package query

import "hermannm.dev/enumnames"

type MetricKind uint8

const (
	MetricKindCount MetricKind = iota + 1
	MetricKindAverage
	MetricKindSum
	MetricKindMax
	MetricKindMin
	MetricKindExtendedStats
	MetricKindPercentiles
	MetricKindCardinality
	MetricKindMovingAverage
	MetricKindDerivative
	MetricKindCumulativeSum
	MetricKindBucketScript
	MetricKindRawDocument
	MetricKindRawData
	MetricKindLogs
)

var metricKindMap = enumnames.NewMap(map[MetricKind]string{
	MetricKindCount:         "count",
	MetricKindAverage:       "avg",
	MetricKindSum:           "sum",
	MetricKindMax:           "max",
	MetricKindMin:           "min",
	MetricKindExtendedStats: "extended_stats",
	MetricKindPercentiles:   "percentiles",
	MetricKindCardinality:   "cardinality",
	MetricKindMovingAverage: "moving_avg",
	MetricKindDerivative:    "derivative",
	MetricKindCumulativeSum: "cumulative_sum",
	MetricKindBucketScript:  "bucket_script",
	MetricKindRawDocument:   "raw_document",
	MetricKindRawData:       "raw_data",
	MetricKindLogs:          "logs",
})

// MetricKindInfo holds the static capabilities of a metric kind.
type MetricKindInfo struct {
	Label         string
	RequiresField bool
	IsPipeline    bool
	// Only set for pipeline kinds that reference other metrics through named variables.
	SupportsMultipleBucketPaths bool
	// Single-metric kinds exclude every other metric in the same query.
	IsSingleMetric bool
}

var metricKindInfos = map[MetricKind]MetricKindInfo{
	MetricKindCount:         {Label: "Count"},
	MetricKindAverage:       {Label: "Average", RequiresField: true},
	MetricKindSum:           {Label: "Sum", RequiresField: true},
	MetricKindMax:           {Label: "Max", RequiresField: true},
	MetricKindMin:           {Label: "Min", RequiresField: true},
	MetricKindExtendedStats: {Label: "Extended Stats", RequiresField: true},
	MetricKindPercentiles:   {Label: "Percentiles", RequiresField: true},
	MetricKindCardinality:   {Label: "Unique Count", RequiresField: true},
	MetricKindMovingAverage: {Label: "Moving Average", IsPipeline: true},
	MetricKindDerivative:    {Label: "Derivative", IsPipeline: true},
	MetricKindCumulativeSum: {Label: "Cumulative Sum", IsPipeline: true},
	MetricKindBucketScript: {
		Label:                       "Bucket Script",
		IsPipeline:                  true,
		SupportsMultipleBucketPaths: true,
	},
	MetricKindRawDocument: {Label: "Raw Document", IsSingleMetric: true},
	MetricKindRawData:     {Label: "Raw Data", IsSingleMetric: true},
	MetricKindLogs:        {Label: "Logs", IsSingleMetric: true},
}

func (kind MetricKind) IsValid() bool {
	return metricKindMap.ContainsEnumValue(kind)
}

func (kind MetricKind) String() string {
	return metricKindMap.GetNameOrFallback(kind, "INVALID_METRIC_KIND")
}

func (kind MetricKind) Info() MetricKindInfo {
	return metricKindInfos[kind]
}

func (kind MetricKind) Label() string {
	return metricKindInfos[kind].Label
}

func (kind MetricKind) IsPipeline() bool {
	return metricKindInfos[kind].IsPipeline
}

func (kind MetricKind) IsSingleMetric() bool {
	return metricKindInfos[kind].IsSingleMetric
}

func (kind MetricKind) MarshalJSON() ([]byte, error) {
	return metricKindMap.MarshalToNameJSON(kind)
}

func (kind *MetricKind) UnmarshalJSON(bytes []byte) error {
	return metricKindMap.UnmarshalFromNameJSON(bytes, kind)
}

// MetricLabel returns the display label for a metric kind or extended statistic given by its wire
// name, falling back to the name itself (as for percentile series like "p95").
func MetricLabel(name string) string {
	for kind, info := range metricKindInfos {
		if kind.String() == name {
			return info.Label
		}
	}
	for stat, label := range extendedStatLabels {
		if stat.String() == name {
			return label
		}
	}
	return name
}
