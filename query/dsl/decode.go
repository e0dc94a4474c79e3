package dsl

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"hermannm.dev/searchanalysis/query"
	"hermannm.dev/wrap"
)

type searchResponse struct {
	Error        json.RawMessage `json:"error"`
	Hits         *searchHits     `json:"hits"`
	Aggregations map[string]any  `json:"aggregations"`
}

type searchHits struct {
	// Either a number, or an object with a "value" field in newer backend versions.
	Total any         `json:"total"`
	Hits  []searchHit `json:"hits"`
}

type searchHit struct {
	ID        string         `json:"_id"`
	Type      string         `json:"_type"`
	Index     string         `json:"_index"`
	Source    map[string]any `json:"_source"`
	Fields    map[string]any `json:"fields"`
	Highlight map[string]any `json:"highlight"`
}

type multiSearchResponse struct {
	Error     json.RawMessage   `json:"error"`
	Responses []json.RawMessage `json:"responses"`
}

// Names of series not derived from metrics.
const (
	DocsSeriesName  = "docs"
	TableSeriesName = "table"
)

// Decode turns a search response into series, following the structure of the query that the
// request was compiled from. mode selects how documents are shaped.
//
// If the response reports an error, a *query.BackendError is returned.
func Decode(q query.Query, body []byte, mode query.Format) ([]query.Series, error) {
	var response searchResponse
	if err := jsonCodec.Unmarshal(body, &response); err != nil {
		return nil, wrap.Error(err, "failed to parse search response")
	}

	return decodeResponse(q, response, mode)
}

// DecodeMultiSearch decodes a multi-search response, where the response at each index belongs to
// the query at the same index.
func DecodeMultiSearch(
	queries []query.Query,
	body []byte,
	mode query.Format,
) ([]query.Series, error) {
	var response multiSearchResponse
	if err := jsonCodec.Unmarshal(body, &response); err != nil {
		return nil, wrap.Error(err, "failed to parse multi-search response")
	}
	if query.HasError(response.Error) {
		return nil, query.NewBackendError(response.Error)
	}

	if len(response.Responses) != len(queries) {
		return nil, fmt.Errorf(
			"expected %d responses in multi-search response, got %d",
			len(queries),
			len(response.Responses),
		)
	}

	var series []query.Series
	for i, rawResponse := range response.Responses {
		var response searchResponse
		if err := jsonCodec.Unmarshal(rawResponse, &response); err != nil {
			return nil, wrap.Errorf(err, "failed to parse response %d", i)
		}

		decoded, err := decodeResponse(queries[i], response, mode)
		if err != nil {
			return nil, err
		}
		series = append(series, decoded...)
	}

	return series, nil
}

func decodeResponse(
	q query.Query,
	response searchResponse,
	mode query.Format,
) ([]query.Series, error) {
	if query.HasError(response.Error) {
		return nil, query.NewBackendError(response.Error)
	}

	q = q.WithDefaults()

	var series []query.Series

	if response.Hits != nil && len(response.Hits.Hits) != 0 {
		series = append(series, decodeHits(*response.Hits, mode))
	}

	if response.Aggregations != nil && !q.IsDocumentQuery() && len(q.BucketAggregations) != 0 {
		decoder := bucketDecoder{query: q}
		decoder.processBuckets(response.Aggregations, nil, 0)
		decoder.trimEdges()
		series = append(series, decoder.output()...)
	}

	for i := range series {
		series[i].RefID = q.RefID
	}
	return series, nil
}

func decodeHits(hits searchHits, mode query.Format) query.Series {
	docs := make([]map[string]any, 0, len(hits.Hits))
	for _, hit := range hits.Hits {
		doc := map[string]any{"_id": hit.ID, "_type": hit.Type, "_index": hit.Index}
		query.Flatten(doc, "", hit.Source)
		for key, value := range hit.Fields {
			doc[key] = value
		}
		if mode == query.FormatLogs && len(hit.Highlight) != 0 {
			doc["highlight"] = hit.Highlight
		}
		docs = append(docs, doc)
	}

	total := hitsTotal(hits.Total)

	switch mode {
	case query.FormatTable:
		return docsTable(docs, total)
	case query.FormatLogs:
		return query.Series{
			Name:  DocsSeriesName,
			Type:  query.SeriesTypeDocs,
			Docs:  docs,
			Total: total,
			Meta:  query.SeriesMeta{PreferredVisualisation: query.VisualisationLogs},
		}
	default:
		return query.Series{Name: DocsSeriesName, Type: query.SeriesTypeDocs, Docs: docs, Total: total}
	}
}

func hitsTotal(total any) int {
	if totalObject, ok := total.(map[string]any); ok {
		return cast.ToInt(totalObject["value"])
	}
	return cast.ToInt(total)
}

var docMetadataFields = []string{"_id", "_type", "_index"}

// docsTable lays out documents as a table, with the metadata fields first and the remaining fields
// sorted by name.
func docsTable(docs []map[string]any, total int) query.Series {
	fieldSet := make(map[string]struct{})
	for _, doc := range docs {
		for field := range doc {
			fieldSet[field] = struct{}{}
		}
	}
	for _, field := range docMetadataFields {
		delete(fieldSet, field)
	}

	fields := make([]string, 0, len(fieldSet))
	for field := range fieldSet {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	fields = append(append([]string{}, docMetadataFields...), fields...)

	table := query.Series{
		Name:    DocsSeriesName,
		Type:    query.SeriesTypeTable,
		Columns: make([]query.Column, 0, len(fields)),
		Rows:    make([][]any, 0, len(docs)),
		Total:   total,
		Meta:    query.SeriesMeta{PreferredVisualisation: query.VisualisationTable},
	}
	for _, field := range fields {
		table.Columns = append(table.Columns, query.Column{Text: field})
	}
	for _, doc := range docs {
		row := make([]any, len(fields))
		for i, field := range fields {
			row[i] = doc[field]
		}
		table.Rows = append(table.Rows, row)
	}

	return table
}

// pathProperties are the bucket keys entered on the way down the aggregation tree, in order of
// depth. Values are never modified after creation, so they can be shared between branches.
type pathProperties []pathProperty

type pathProperty struct {
	key   string
	value any
}

// FilterProperty is the path property that named filter buckets are recorded under.
const FilterProperty = "filter"

// with returns a copy of the properties with the given key set.
func (props pathProperties) with(key string, value any) pathProperties {
	next := make(pathProperties, len(props), len(props)+1)
	copy(next, props)

	for i := range next {
		if next[i].key == key {
			next[i].value = value
			return next
		}
	}
	return append(next, pathProperty{key: key, value: value})
}

func (props pathProperties) get(key string) (value any, ok bool) {
	for _, prop := range props {
		if prop.key == key {
			return prop.value, true
		}
	}
	return nil, false
}

func (props pathProperties) joinedValues() string {
	values := make([]string, 0, len(props))
	for _, prop := range props {
		values = append(values, cast.ToString(prop.value))
	}
	return strings.Join(values, " ")
}

type bucketDecoder struct {
	query      query.Query
	timeSeries []decodedSeries
	table      *query.Series
}

// decodedSeries is a time series before naming.
type decodedSeries struct {
	metric query.MetricAggregation
	// Name of the produced value: the metric kind, a percentile prefixed with "p", or an extended
	// stat name.
	valueName string
	field     string
	props     pathProperties
	points    []query.Point
}

type bucket struct {
	// Set for buckets of keyed bucket objects, such as named filters.
	name   string
	values map[string]any
}

func (decoder *bucketDecoder) processBuckets(
	aggregations map[string]any,
	props pathProperties,
	depth int,
) {
	aggDef := decoder.query.BucketAggregations[depth]
	aggNode, ok := aggregations[aggDef.ID].(map[string]any)
	if !ok {
		return
	}
	buckets := bucketList(aggNode, aggDef)

	if depth == len(decoder.query.BucketAggregations)-1 {
		if aggDef.Kind() == query.BucketKindDateHistogram {
			decoder.processMetrics(buckets, props)
		} else {
			decoder.processAggregationDocs(buckets, aggDef, props)
		}
		return
	}

	for _, bucket := range buckets {
		next := props
		if bucket.name != "" {
			next = props.with(FilterProperty, bucket.name)
		} else if key, ok := bucket.values["key"]; ok {
			if keyAsString, ok := bucket.values["key_as_string"]; ok && keyAsString != nil {
				key = keyAsString
			}
			next = props.with(aggDef.Field, key)
		}

		decoder.processBuckets(bucket.values, next, depth+1)
	}
}

// bucketList returns the buckets of an aggregation node. Keyed bucket objects are ordered by the
// configured filters, then by key.
func bucketList(aggNode map[string]any, aggDef query.BucketAggregation) []bucket {
	switch rawBuckets := aggNode["buckets"].(type) {
	case []any:
		buckets := make([]bucket, 0, len(rawBuckets))
		for _, rawBucket := range rawBuckets {
			if values, ok := rawBucket.(map[string]any); ok {
				buckets = append(buckets, bucket{values: values})
			}
		}
		return buckets
	case map[string]any:
		names := make([]string, 0, len(rawBuckets))
		seen := make(map[string]struct{}, len(rawBuckets))

		if filters, ok := aggDef.Settings.(query.FiltersSettings); ok {
			for _, filter := range filters.Filters {
				name := filter.Name()
				if _, exists := rawBuckets[name]; !exists {
					continue
				}
				if _, duplicate := seen[name]; duplicate {
					continue
				}
				names = append(names, name)
				seen[name] = struct{}{}
			}
		}

		var rest []string
		for name := range rawBuckets {
			if _, ok := seen[name]; !ok {
				rest = append(rest, name)
			}
		}
		sort.Strings(rest)
		names = append(names, rest...)

		buckets := make([]bucket, 0, len(names))
		for _, name := range names {
			if values, ok := rawBuckets[name].(map[string]any); ok {
				buckets = append(buckets, bucket{name: name, values: values})
			}
		}
		return buckets
	default:
		return nil
	}
}

func (decoder *bucketDecoder) processMetrics(buckets []bucket, props pathProperties) {
	for _, metric := range decoder.query.MetricAggregations {
		if metric.Hide {
			continue
		}

		switch settings := metric.Settings.(type) {
		case query.CountSettings, nil:
			series := decodedSeries{
				metric:    metric,
				valueName: query.MetricKindCount.String(),
				props:     props,
				points:    make([]query.Point, 0, len(buckets)),
			}
			for _, bucket := range buckets {
				series.points = append(series.points, query.Point{
					Timestamp: bucketTimestamp(bucket),
					Value:     floatValue(bucket.values["doc_count"]),
				})
			}
			decoder.timeSeries = append(decoder.timeSeries, series)
		case query.PercentilesSettings:
			if len(buckets) == 0 {
				continue
			}

			firstValues := percentileValues(buckets[0].values, metric.ID)
			for _, percentile := range sortedPercentiles(firstValues) {
				series := decodedSeries{
					metric:    metric,
					valueName: "p" + percentile,
					field:     metric.Field,
					props:     props,
					points:    make([]query.Point, 0, len(buckets)),
				}
				for _, bucket := range buckets {
					values := percentileValues(bucket.values, metric.ID)
					series.points = append(series.points, query.Point{
						Timestamp: bucketTimestamp(bucket),
						Value:     floatValue(values[percentile]),
					})
				}
				decoder.timeSeries = append(decoder.timeSeries, series)
			}
		case query.ExtendedStatsSettings:
			for _, stat := range settings.Stats {
				series := decodedSeries{
					metric:    metric,
					valueName: stat.String(),
					field:     metric.Field,
					props:     props,
					points:    make([]query.Point, 0, len(buckets)),
				}
				for _, bucket := range buckets {
					stats, _ := bucket.values[metric.ID].(map[string]any)
					series.points = append(series.points, query.Point{
						Timestamp: bucketTimestamp(bucket),
						Value:     floatValue(flattenStdDeviationBounds(stats)[stat.String()]),
					})
				}
				decoder.timeSeries = append(decoder.timeSeries, series)
			}
		case query.DocumentSettings:
			continue
		default:
			series := decodedSeries{
				metric:    metric,
				valueName: metric.Kind().String(),
				field:     metric.Field,
				props:     props,
				points:    make([]query.Point, 0, len(buckets)),
			}
			for _, bucket := range buckets {
				value, ok := metricValue(bucket.values, metric.ID)
				if !ok {
					continue
				}
				series.points = append(series.points, query.Point{
					Timestamp: bucketTimestamp(bucket),
					Value:     value,
				})
			}
			decoder.timeSeries = append(decoder.timeSeries, series)
		}
	}
}

func (decoder *bucketDecoder) processAggregationDocs(
	buckets []bucket,
	aggDef query.BucketAggregation,
	props pathProperties,
) {
	if decoder.table == nil {
		decoder.table = &query.Series{
			Name: TableSeriesName,
			Type: query.SeriesTypeTable,
			Meta: query.SeriesMeta{PreferredVisualisation: query.VisualisationTable},
		}
	}
	table := decoder.table

	for _, prop := range props {
		addColumn(table, prop.key)
	}
	keyColumn := aggDef.Field
	if aggDef.Kind() == query.BucketKindFilters {
		keyColumn = FilterProperty
	}
	addColumn(table, keyColumn)

	metrics := decoder.query.MetricAggregations

	for _, bucket := range buckets {
		row := make([]any, 0, len(props)+1+len(metrics))
		for _, prop := range props {
			row = append(row, prop.value)
		}
		if bucket.name != "" {
			row = append(row, bucket.name)
		} else {
			row = append(row, bucket.values["key"])
		}

		// Metrics that share a column (such as several count metrics) fill it once per row, so
		// that rows stay aligned with the columns.
		rowColumns := make(map[string]struct{}, len(metrics))
		addValue := func(column string, value any) {
			if _, filled := rowColumns[column]; filled {
				return
			}
			rowColumns[column] = struct{}{}
			addColumn(table, column)
			row = append(row, value)
		}

		for _, metric := range metrics {
			if metric.Hide {
				continue
			}

			switch settings := metric.Settings.(type) {
			case query.CountSettings, nil:
				addValue(query.MetricKindCount.Label(), bucket.values["doc_count"])
			case query.ExtendedStatsSettings:
				stats, _ := bucket.values[metric.ID].(map[string]any)
				stats = flattenStdDeviationBounds(stats)
				sameKind := query.CountMetricsOfKind(metrics, query.MetricKindExtendedStats) > 1
				for _, stat := range settings.Stats {
					column := query.MetricLabel(stat.String())
					if sameKind {
						column += " " + metric.Field
					}
					addValue(column, stats[stat.String()])
				}
			case query.PercentilesSettings:
				values := percentileValues(bucket.values, metric.ID)
				for _, percentile := range sortedPercentiles(values) {
					addValue("p"+percentile+" "+metric.Field, values[percentile])
				}
			case query.DocumentSettings:
				continue
			default:
				column := metric.Kind().Label()
				if query.CountMetricsOfKind(metrics, metric.Kind()) > 1 {
					if bucketScript, ok := settings.(query.BucketScriptSettings); ok {
						column = bucketScript.Script
					} else {
						column += " " + metric.Field
					}
				}

				var value any
				if floatPtr, ok := metricValue(bucket.values, metric.ID); ok && floatPtr != nil {
					value = *floatPtr
				}
				addValue(column, value)
			}
		}

		table.Rows = append(table.Rows, row)
	}
}

// addColumn adds a column with the given text, unless the table already has one.
func addColumn(table *query.Series, text string) {
	for _, column := range table.Columns {
		if column.Text == text {
			return
		}
	}
	table.Columns = append(table.Columns, query.Column{Text: text})
}

func bucketTimestamp(bucket bucket) int64 {
	return cast.ToInt64(bucket.values["key"])
}

// metricValue reads a single-value metric from a bucket, preferring the normalized value. ok is
// false if the bucket has no result for the metric.
func metricValue(bucketValues map[string]any, metricID string) (value *float64, ok bool) {
	result, ok := bucketValues[metricID].(map[string]any)
	if !ok {
		return nil, false
	}
	if normalized, ok := result["normalized_value"]; ok && normalized != nil {
		return floatValue(normalized), true
	}
	return floatValue(result["value"]), true
}

func percentileValues(bucketValues map[string]any, metricID string) map[string]any {
	result, _ := bucketValues[metricID].(map[string]any)
	values, _ := result["values"].(map[string]any)
	return values
}

// sortedPercentiles returns the percentile keys in ascending numeric order.
func sortedPercentiles(values map[string]any) []string {
	percentiles := make([]string, 0, len(values))
	for percentile := range values {
		percentiles = append(percentiles, percentile)
	}
	sort.Slice(percentiles, func(i, j int) bool {
		return cast.ToFloat64(percentiles[i]) < cast.ToFloat64(percentiles[j])
	})
	return percentiles
}

// flattenStdDeviationBounds returns a copy of an extended stats result where the nested standard
// deviation bounds are top-level stats.
func flattenStdDeviationBounds(stats map[string]any) map[string]any {
	flattened := make(map[string]any, len(stats)+2)
	for key, value := range stats {
		flattened[key] = value
	}

	if bounds, ok := stats["std_deviation_bounds"].(map[string]any); ok {
		flattened[query.ExtendedStatStdDeviationBoundsUpper.String()] = bounds["upper"]
		flattened[query.ExtendedStatStdDeviationBoundsLower.String()] = bounds["lower"]
	}
	return flattened
}

func floatValue(value any) *float64 {
	if value == nil {
		return nil
	}
	float, err := cast.ToFloat64E(value)
	if err != nil {
		return nil
	}
	return &float
}

func (decoder *bucketDecoder) trimEdges() {
	last := decoder.query.BucketAggregations[len(decoder.query.BucketAggregations)-1]
	settings, ok := last.Settings.(query.DateHistogramSettings)
	if !ok {
		return
	}

	for i := range decoder.timeSeries {
		decoder.timeSeries[i].points = trimPoints(decoder.timeSeries[i].points, settings.TrimEdges)
	}
}

// trimPoints drops trim points from each end, if more than 2*trim points are given.
func trimPoints(points []query.Point, trim int) []query.Point {
	if trim <= 0 || len(points) <= 2*trim {
		return points
	}
	return points[trim : len(points)-trim]
}

func (decoder *bucketDecoder) output() []query.Series {
	namer := newSeriesNamer(decoder.query, decoder.timeSeries)

	output := make([]query.Series, 0, len(decoder.timeSeries)+1)
	for _, series := range decoder.timeSeries {
		output = append(output, query.Series{
			Name:   namer.name(series),
			Type:   query.SeriesTypeTimeSeries,
			Points: series.points,
			Meta:   query.SeriesMeta{PreferredVisualisation: query.VisualisationGraph},
		})
	}

	if decoder.table != nil {
		output = append(output, *decoder.table)
	}
	return output
}
