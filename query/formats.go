package query

import "hermannm.dev/enumnames"

type QueryType uint8

const (
	QueryTypeLucene QueryType = iota + 1
	QueryTypePPL
)

var queryTypeMap = enumnames.NewMap(map[QueryType]string{
	QueryTypeLucene: "lucene",
	QueryTypePPL:    "PPL",
})

func (queryType QueryType) IsValid() bool {
	return queryTypeMap.ContainsEnumValue(queryType)
}

func (queryType QueryType) String() string {
	return queryTypeMap.GetNameOrFallback(queryType, "INVALID_QUERY_TYPE")
}

func (queryType QueryType) MarshalJSON() ([]byte, error) {
	return queryTypeMap.MarshalToNameJSON(queryType)
}

func (queryType *QueryType) UnmarshalJSON(bytes []byte) error {
	return queryTypeMap.UnmarshalFromNameJSON(bytes, queryType)
}

// Format selects how decoded responses are shaped. It is used both as the PPL output format setting
// and as the decode mode for either protocol.
type Format uint8

const (
	FormatTimeSeries Format = iota + 1
	FormatTable
	FormatLogs
)

var formatMap = enumnames.NewMap(map[Format]string{
	FormatTimeSeries: "time_series",
	FormatTable:      "table",
	FormatLogs:       "logs",
})

func (format Format) IsValid() bool {
	return formatMap.ContainsEnumValue(format)
}

func (format Format) String() string {
	return formatMap.GetNameOrFallback(format, "INVALID_FORMAT")
}

func (format Format) MarshalJSON() ([]byte, error) {
	return formatMap.MarshalToNameJSON(format)
}

func (format *Format) UnmarshalJSON(bytes []byte) error {
	return formatMap.UnmarshalFromNameJSON(bytes, format)
}
