package query

import "hermannm.dev/enumnames"

type SeriesType uint8

const (
	SeriesTypeTimeSeries SeriesType = iota + 1
	SeriesTypeTable
	SeriesTypeDocs
)

var seriesTypeMap = enumnames.NewMap(map[SeriesType]string{
	SeriesTypeTimeSeries: "time_series",
	SeriesTypeTable:      "table",
	SeriesTypeDocs:       "docs",
})

func (seriesType SeriesType) IsValid() bool {
	return seriesTypeMap.ContainsEnumValue(seriesType)
}

func (seriesType SeriesType) String() string {
	return seriesTypeMap.GetNameOrFallback(seriesType, "INVALID_SERIES_TYPE")
}

func (seriesType SeriesType) MarshalJSON() ([]byte, error) {
	return seriesTypeMap.MarshalToNameJSON(seriesType)
}

func (seriesType *SeriesType) UnmarshalJSON(bytes []byte) error {
	return seriesTypeMap.UnmarshalFromNameJSON(bytes, seriesType)
}

// Series is a decoded, named result: a list of points for time series, columns and rows for
// tables, or documents for raw document queries.
type Series struct {
	Name  string     `json:"name"`
	Type  SeriesType `json:"type"`
	RefID string     `json:"refId,omitempty"`

	Points []Point `json:"points,omitempty"`

	Columns []Column `json:"columns,omitempty"`
	Rows    [][]any  `json:"rows,omitempty"`

	Docs []map[string]any `json:"docs,omitempty"`
	// Total number of hits matched by a document query, which may exceed len(Docs).
	Total int `json:"total,omitempty"`

	Meta SeriesMeta `json:"meta"`
}

type Point struct {
	// Milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`
	// nil for buckets where the backend returned no value.
	Value *float64 `json:"value"`
}

type Column struct {
	Text string `json:"text"`
	// Backend data type, when known.
	Type string `json:"type,omitempty"`
}

type SeriesMeta struct {
	PreferredVisualisation string `json:"preferredVisualisation,omitempty"`
}

const (
	VisualisationGraph = "graph"
	VisualisationTable = "table"
	VisualisationLogs  = "logs"
)
