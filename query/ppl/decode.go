package ppl

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cast"
	"hermannm.dev/searchanalysis/query"
	"hermannm.dev/wrap"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

type queryResponse struct {
	Error    json.RawMessage `json:"error"`
	Schema   []schemaField   `json:"schema"`
	DataRows [][]any         `json:"datarows"`
}

type schemaField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (field schemaField) isTime() bool {
	switch field.Type {
	case "timestamp", "datetime", "date":
		return true
	default:
		return false
	}
}

func (field schemaField) isNumeric() bool {
	switch field.Type {
	case "byte", "short", "integer", "int", "long", "float", "double":
		return true
	default:
		return false
	}
}

// isDisplayTime is true for the types that are reformatted for display. Dates are kept as-is.
func (field schemaField) isDisplayTime() bool {
	return field.Type == "timestamp" || field.Type == "datetime"
}

type DecodeOptions struct {
	// Location of displayed timestamps. nil means time.Local.
	Location *time.Location
}

// DisplayTimeLayout is the layout of timestamps in table and time series output.
const DisplayTimeLayout = "2006-01-02 15:04:05"

// Decode turns a PPL response into a single series shaped by mode.
//
// If the response reports an error, a *query.BackendError is returned. Time series mode requires
// the response to have exactly a time column and a numeric value column, otherwise a
// *query.InvalidTimeSeriesQueryError is returned.
func Decode(
	q query.Query,
	body []byte,
	mode query.Format,
	options DecodeOptions,
) ([]query.Series, error) {
	var response queryResponse
	if err := jsonCodec.Unmarshal(body, &response); err != nil {
		return nil, wrap.Error(err, "failed to parse PPL response")
	}
	if query.HasError(response.Error) {
		return nil, query.NewBackendError(response.Error)
	}

	location := options.Location
	if location == nil {
		location = time.Local
	}

	var series query.Series
	var err error
	switch mode {
	case query.FormatTimeSeries:
		series, err = decodeTimeSeries(response)
	case query.FormatLogs:
		series = decodeLogs(response)
	default:
		series = decodeTable(response, location)
	}
	if err != nil {
		return nil, err
	}

	series.RefID = q.RefID
	return []query.Series{series}, nil
}

// record is a row with nested values flattened, keyed by field name.
type record map[string]any

type recordSet struct {
	records []record
	// Distinct field names in order of first appearance.
	fields []string
	types  map[string]string
}

func newRecordSet(response queryResponse) recordSet {
	set := recordSet{
		records: make([]record, 0, len(response.DataRows)),
		types:   make(map[string]string, len(response.Schema)),
	}
	seen := make(map[string]struct{}, len(response.Schema))

	addField := func(name string) {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			set.fields = append(set.fields, name)
		}
	}

	for _, field := range response.Schema {
		set.types[field.Name] = field.Type
	}

	for _, row := range response.DataRows {
		rec := make(record, len(response.Schema))

		for i, field := range response.Schema {
			if i >= len(row) {
				break
			}

			nested, isObject := row[i].(map[string]any)
			if !isObject {
				rec[field.Name] = row[i]
				addField(field.Name)
				continue
			}

			flattened := make(map[string]any)
			query.Flatten(flattened, field.Name, nested)
			keys := make([]string, 0, len(flattened))
			for key := range flattened {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				rec[key] = flattened[key]
				addField(key)
			}
		}

		set.records = append(set.records, rec)
	}

	return set
}

func decodeTable(response queryResponse, location *time.Location) query.Series {
	set := newRecordSet(response)

	table := query.Series{
		Name:    TableSeriesName,
		Type:    query.SeriesTypeTable,
		Columns: make([]query.Column, 0, len(set.fields)),
		Rows:    make([][]any, 0, len(set.records)),
		Meta:    query.SeriesMeta{PreferredVisualisation: query.VisualisationTable},
	}
	for _, field := range set.fields {
		table.Columns = append(table.Columns, query.Column{Text: field, Type: set.types[field]})
	}

	for _, rec := range set.records {
		row := make([]any, len(set.fields))
		for i, field := range set.fields {
			value, ok := rec[field]
			if !ok {
				continue
			}
			if (schemaField{Name: field, Type: set.types[field]}).isDisplayTime() {
				value = displayTime(value, location)
			}
			row[i] = value
		}
		table.Rows = append(table.Rows, row)
	}

	return table
}

// Names of decoded PPL series, when not named by their value column.
const (
	TableSeriesName = "table"
	LogsSeriesName  = "logs"
)

func decodeLogs(response queryResponse) query.Series {
	set := newRecordSet(response)

	docs := make([]map[string]any, 0, len(set.records))
	for _, rec := range set.records {
		docs = append(docs, rec)
	}

	return query.Series{
		Name:  LogsSeriesName,
		Type:  query.SeriesTypeDocs,
		Docs:  docs,
		Total: len(docs),
		Meta:  query.SeriesMeta{PreferredVisualisation: query.VisualisationLogs},
	}
}

func decodeTimeSeries(response queryResponse) (query.Series, error) {
	if len(response.Schema) != 2 {
		return query.Series{}, &query.InvalidTimeSeriesQueryError{
			Reason: fmt.Sprintf(
				"response must have exactly 2 columns (time and value), got %d",
				len(response.Schema),
			),
		}
	}

	timeIndex := -1
	for i, field := range response.Schema {
		if !field.isTime() {
			continue
		}
		if timeIndex != -1 {
			return query.Series{}, &query.InvalidTimeSeriesQueryError{
				Reason: "response has more than one time column",
			}
		}
		timeIndex = i
	}
	if timeIndex == -1 {
		return query.Series{}, &query.InvalidTimeSeriesQueryError{
			Reason: "response has no column of type timestamp, datetime or date",
		}
	}
	valueIndex := 1 - timeIndex
	valueField := response.Schema[valueIndex]
	if !valueField.isNumeric() {
		return query.Series{}, &query.InvalidTimeSeriesQueryError{
			Reason: fmt.Sprintf(
				"value column '%s' has non-numeric type '%s'",
				valueField.Name,
				valueField.Type,
			),
		}
	}

	series := query.Series{
		Name:   valueField.Name,
		Type:   query.SeriesTypeTimeSeries,
		Points: make([]query.Point, 0, len(response.DataRows)),
		Meta:   query.SeriesMeta{PreferredVisualisation: query.VisualisationGraph},
	}

	for i, row := range response.DataRows {
		if len(row) != 2 {
			return query.Series{}, &query.InvalidTimeSeriesQueryError{
				Reason: fmt.Sprintf("row %d has %d values, expected 2", i, len(row)),
			}
		}

		timestamp, err := parseTime(row[timeIndex])
		if err != nil {
			return query.Series{}, &query.InvalidTimeSeriesQueryError{
				Reason: fmt.Sprintf("invalid time value '%v' in row %d", row[timeIndex], i),
			}
		}

		point := query.Point{Timestamp: timestamp.UnixMilli()}
		switch value := row[valueIndex].(type) {
		case nil:
		case float64:
			point.Value = &value
		default:
			return query.Series{}, &query.InvalidTimeSeriesQueryError{
				Reason: fmt.Sprintf(
					"value '%v' of column '%s' in row %d is not numeric",
					value,
					valueField.Name,
					i,
				),
			}
		}
		series.Points = append(series.Points, point)
	}

	return series, nil
}

// Layouts of time values in PPL responses, which are in UTC.
var responseTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseTime(value any) (time.Time, error) {
	if text, ok := value.(string); ok {
		for _, layout := range responseTimeLayouts {
			if parsed, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
				return parsed, nil
			}
		}
	}
	return cast.ToTimeInDefaultLocationE(value, time.UTC)
}

// displayTime formats a time value in the given location, leaving it as-is if it can't be parsed.
func displayTime(value any, location *time.Location) any {
	if value == nil {
		return nil
	}
	parsed, err := parseTime(value)
	if err != nil {
		return value
	}
	return parsed.In(location).Format(DisplayTimeLayout)
}
