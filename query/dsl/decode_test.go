package dsl

import (
	"testing"

	"github.com/stretchr/testify/require"
	"hermannm.dev/searchanalysis/query"
)

func decode(t *testing.T, q query.Query, response string) []query.Series {
	t.Helper()

	series, err := Decode(q, []byte(response), query.FormatTimeSeries)
	require.NoError(t, err)
	return series
}

func point(timestamp int64, value float64) query.Point {
	return query.Point{Timestamp: timestamp, Value: &value}
}

func seriesNames(series []query.Series) []string {
	names := make([]string, 0, len(series))
	for _, s := range series {
		names = append(names, s.Name)
	}
	return names
}

const termsAndDateHistogramQuery = `{
	"refId": "A",
	"timeField": "@timestamp",
	"metrics": [{"id": "1", "type": "count"}],
	"bucketAggs": [
		{"id": "3", "type": "terms", "field": "host", "settings": {"size": "10"}},
		{"id": "2", "type": "date_histogram", "field": "@timestamp", "settings": {"interval": "auto"}}
	]
}`

const termsAndDateHistogramResponse = `{
	"aggregations": {
		"3": {
			"buckets": [
				{
					"key": "server1",
					"doc_count": 4,
					"2": {"buckets": [{"key": 1000, "doc_count": 1}, {"key": 2000, "doc_count": 3}]}
				},
				{
					"key": "server2",
					"doc_count": 10,
					"2": {"buckets": [{"key": 1000, "doc_count": 2}, {"key": 2000, "doc_count": 8}]}
				}
			]
		}
	}
}`

func TestDecodeCountWithDateHistogram(t *testing.T) {
	q := parseQuery(t, `{"refId": "A", "timeField": "@timestamp"}`)

	series := decode(t, q, `{
		"aggregations": {
			"2": {
				"buckets": [
					{"key": 1000, "doc_count": 10},
					{"key": 2000, "doc_count": 15},
					{"key": 3000, "doc_count": 0}
				]
			}
		}
	}`)

	require.Len(t, series, 1)
	require.Equal(t, "Count", series[0].Name)
	require.Equal(t, "A", series[0].RefID)
	require.Equal(t, query.SeriesTypeTimeSeries, series[0].Type)
	require.Equal(t, []query.Point{point(1000, 10), point(2000, 15), point(3000, 0)}, series[0].Points)
}

func TestDecodeTermsAndDateHistogram(t *testing.T) {
	series := decode(t, parseQuery(t, termsAndDateHistogramQuery), termsAndDateHistogramResponse)

	require.Equal(t, []string{"server1", "server2"}, seriesNames(series))
	require.Equal(t, []query.Point{point(1000, 1), point(2000, 3)}, series[0].Points)
	require.Equal(t, []query.Point{point(1000, 2), point(2000, 8)}, series[1].Points)
}

func TestDecodeAlias(t *testing.T) {
	testCases := []struct {
		alias        string
		expectedName string
	}{
		{alias: "{{host}}-{{metric}}", expectedName: "server1-Count"},
		{alias: "{{term host}} requests", expectedName: "server1 requests"},
		{alias: "{{field}}/{{unknown}}", expectedName: "/{{unknown}}"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.alias, func(t *testing.T) {
			q := parseQuery(t, termsAndDateHistogramQuery)
			q.Alias = testCase.alias

			series := decode(t, q, termsAndDateHistogramResponse)

			require.Len(t, series, 2)
			require.Equal(t, testCase.expectedName, series[0].Name)
		})
	}
}

func TestDecodeMultipleMetricKinds(t *testing.T) {
	q := parseQuery(t, `{
		"timeField": "@timestamp",
		"metrics": [{"id": "1", "type": "count"}, {"id": "4", "type": "avg", "field": "bytes"}],
		"bucketAggs": [
			{"id": "3", "type": "terms", "field": "host"},
			{"id": "2", "type": "date_histogram", "field": "@timestamp"}
		]
	}`)

	series := decode(t, q, `{
		"aggregations": {
			"3": {
				"buckets": [
					{
						"key": "server1",
						"2": {
							"buckets": [
								{"key": 1000, "doc_count": 1, "4": {"value": 10}},
								{"key": 2000, "doc_count": 3, "4": {"value": null}}
							]
						}
					}
				]
			}
		}
	}`)

	require.Equal(t, []string{"server1 Count", "server1 Average bytes"}, seriesNames(series))
	require.Equal(t, []query.Point{point(1000, 10), {Timestamp: 2000}}, series[1].Points)
}

func TestDecodePercentiles(t *testing.T) {
	q := parseQuery(t, `{
		"timeField": "@timestamp",
		"metrics": [
			{"id": "1", "type": "percentiles", "field": "latency", "settings": {"percents": ["25", "75", "100"]}}
		]
	}`)

	series := decode(t, q, `{
		"aggregations": {
			"2": {
				"buckets": [
					{"key": 1000, "1": {"values": {"75": 3.3, "100": 4.4, "25": 1.1}}},
					{"key": 2000, "1": {"values": {"75": 30.3, "100": 40.4, "25": 10.1}}}
				]
			}
		}
	}`)

	require.Equal(t, []string{"p25 latency", "p75 latency", "p100 latency"}, seriesNames(series))
	require.Equal(t, []query.Point{point(1000, 1.1), point(2000, 10.1)}, series[0].Points)
	require.Equal(t, []query.Point{point(1000, 4.4), point(2000, 40.4)}, series[2].Points)
}

func TestDecodeExtendedStats(t *testing.T) {
	q := parseQuery(t, `{
		"timeField": "@timestamp",
		"metrics": [
			{
				"id": "1",
				"type": "extended_stats",
				"field": "bytes",
				"meta": {"max": true, "std_deviation_bounds_upper": true, "avg": false}
			}
		],
		"bucketAggs": [
			{"id": "3", "type": "terms", "field": "host"},
			{"id": "2", "type": "date_histogram", "field": "@timestamp"}
		]
	}`)

	series := decode(t, q, `{
		"aggregations": {
			"3": {
				"buckets": [
					{
						"key": "server1",
						"2": {
							"buckets": [
								{
									"key": 1000,
									"1": {"max": 10.2, "avg": 3, "std_deviation_bounds": {"upper": 5.5, "lower": 1.5}}
								}
							]
						}
					}
				]
			}
		}
	}`)

	require.Equal(
		t,
		[]string{"server1 Max bytes", "server1 Std Dev Upper bytes"},
		seriesNames(series),
	)
	require.Equal(t, []query.Point{point(1000, 10.2)}, series[0].Points)
	require.Equal(t, []query.Point{point(1000, 5.5)}, series[1].Points)
}

func TestDecodePipelineMetricNames(t *testing.T) {
	q := parseQuery(t, `{
		"timeField": "@timestamp",
		"metrics": [
			{"id": "1", "type": "avg", "field": "bytes", "hide": true},
			{"id": "3", "type": "derivative", "pipelineAgg": "1"},
			{"id": "4", "type": "moving_avg", "pipelineAgg": "9"},
			{
				"id": "5",
				"type": "bucket_script",
				"pipelineVariables": [{"name": "var1", "pipelineAgg": "1"}],
				"settings": {"script": "params.var1 * 2"}
			}
		]
	}`)

	series := decode(t, q, `{
		"aggregations": {
			"2": {
				"buckets": [
					{"key": 1000, "1": {"value": 5}, "4": {"value": 1}},
					{"key": 2000, "1": {"value": 7}, "3": {"value": 2, "normalized_value": 0.5}, "5": {"value": 14}}
				]
			}
		}
	}`)

	require.Equal(
		t,
		[]string{"Derivative Average bytes", "Unset", "Average bytes * 2"},
		seriesNames(series),
	)
	require.Equal(t, []query.Point{point(2000, 0.5)}, series[0].Points)
	require.Equal(t, []query.Point{point(1000, 1)}, series[1].Points)
	require.Equal(t, []query.Point{point(2000, 14)}, series[2].Points)
}

func TestDecodeTrimEdges(t *testing.T) {
	q := parseQuery(t, `{
		"timeField": "@timestamp",
		"bucketAggs": [
			{"id": "2", "type": "date_histogram", "field": "@timestamp", "settings": {"trimEdges": "1"}}
		]
	}`)

	series := decode(t, q, `{
		"aggregations": {
			"2": {
				"buckets": [
					{"key": 1000, "doc_count": 1},
					{"key": 2000, "doc_count": 2},
					{"key": 3000, "doc_count": 3},
					{"key": 4000, "doc_count": 4}
				]
			}
		}
	}`)

	require.Len(t, series, 1)
	require.Equal(t, []query.Point{point(2000, 2), point(3000, 3)}, series[0].Points)
}

func TestTrimPoints(t *testing.T) {
	points := []query.Point{point(1, 1), point(2, 2), point(3, 3), point(4, 4), point(5, 5)}

	require.Equal(t, points, trimPoints(points, 0))
	require.Equal(t, points[1:4], trimPoints(points, 1))
	require.Equal(t, points[2:3], trimPoints(points, 2))
	require.Equal(t, points, trimPoints(points, 3))
	require.Equal(t, points[:2], trimPoints(points[:2], 1))
}

func TestDecodeTable(t *testing.T) {
	q := parseQuery(t, `{
		"timeField": "@timestamp",
		"metrics": [
			{"id": "1", "type": "count"},
			{"id": "4", "type": "avg", "field": "bytes"},
			{"id": "5", "type": "percentiles", "field": "latency"}
		],
		"bucketAggs": [
			{"id": "2", "type": "terms", "field": "host"},
			{"id": "3", "type": "terms", "field": "status"}
		]
	}`)

	series := decode(t, q, `{
		"aggregations": {
			"2": {
				"buckets": [
					{
						"key": "server1",
						"3": {
							"buckets": [
								{"key": 200, "doc_count": 8, "4": {"value": 10}, "5": {"values": {"99": 9.9, "50": 5}}},
								{"key": 500, "doc_count": 2, "4": {"value": null}, "5": {"values": {"99": 1, "50": 0.5}}}
							]
						}
					}
				]
			}
		}
	}`)

	require.Len(t, series, 1)
	table := series[0]
	require.Equal(t, query.SeriesTypeTable, table.Type)
	require.Equal(t, []query.Column{
		{Text: "host"},
		{Text: "status"},
		{Text: "Count"},
		{Text: "Average"},
		{Text: "p50 latency"},
		{Text: "p99 latency"},
	}, table.Columns)
	require.Equal(t, [][]any{
		{"server1", float64(200), float64(8), float64(10), float64(5), 9.9},
		{"server1", float64(500), float64(2), nil, 0.5, float64(1)},
	}, table.Rows)
}

func TestDecodeTableWithSameMetricKinds(t *testing.T) {
	q := parseQuery(t, `{
		"timeField": "@timestamp",
		"metrics": [
			{"id": "1", "type": "max", "field": "bytes"},
			{"id": "3", "type": "max", "field": "latency"}
		],
		"bucketAggs": [{"id": "2", "type": "histogram", "field": "bytes", "settings": {"interval": "100"}}]
	}`)

	series := decode(t, q, `{
		"aggregations": {
			"2": {"buckets": [{"key": 0, "1": {"value": 99}, "3": {"value": 5}}]}
		}
	}`)

	require.Len(t, series, 1)
	require.Equal(t, []query.Column{
		{Text: "bytes"},
		{Text: "Max bytes"},
		{Text: "Max latency"},
	}, series[0].Columns)
	require.Equal(t, [][]any{{float64(0), float64(99), float64(5)}}, series[0].Rows)
}

func TestDecodeUnresolvedPipelineName(t *testing.T) {
	q := parseQuery(t, `{
		"timeField": "@timestamp",
		"metrics": [{"id": "1", "type": "derivative", "pipelineAgg": "9"}],
		"bucketAggs": [{"id": "2", "type": "date_histogram"}]
	}`)

	series := decode(t, q, `{
		"aggregations": {"2": {"buckets": [{"key": 1000, "1": {"value": 3}}]}}
	}`)

	require.Equal(t, []string{"Unset"}, seriesNames(series))
}

func TestDecodeTableWithSameStatsKinds(t *testing.T) {
	q := parseQuery(t, `{
		"timeField": "@timestamp",
		"metrics": [
			{"id": "1", "type": "extended_stats", "field": "a", "meta": {"avg": true}},
			{"id": "3", "type": "extended_stats", "field": "b", "meta": {"avg": true}},
			{"id": "4", "type": "count"},
			{"id": "5", "type": "count"}
		],
		"bucketAggs": [{"id": "2", "type": "terms", "field": "host"}]
	}`)

	series := decode(t, q, `{
		"aggregations": {
			"2": {
				"buckets": [
					{"key": "s1", "doc_count": 4, "1": {"avg": 1}, "3": {"avg": 2}}
				]
			}
		}
	}`)

	require.Len(t, series, 1)
	table := series[0]
	require.Equal(t, []query.Column{
		{Text: "host"},
		{Text: "Average a"},
		{Text: "Average b"},
		{Text: "Count"},
	}, table.Columns)
	require.Equal(t, [][]any{{"s1", float64(1), float64(2), float64(4)}}, table.Rows)
	for _, row := range table.Rows {
		require.Len(t, row, len(table.Columns))
	}
}

func TestDecodeFilters(t *testing.T) {
	q := parseQuery(t, `{
		"timeField": "@timestamp",
		"bucketAggs": [
			{
				"id": "3",
				"type": "filters",
				"settings": {"filters": [{"query": "status:500", "label": "errors"}, {"query": "*"}]}
			},
			{"id": "2", "type": "date_histogram", "field": "@timestamp"}
		]
	}`)

	series := decode(t, q, `{
		"aggregations": {
			"3": {
				"buckets": {
					"*": {"2": {"buckets": [{"key": 1000, "doc_count": 10}]}},
					"errors": {"2": {"buckets": [{"key": 1000, "doc_count": 1}]}}
				}
			}
		}
	}`)

	require.Equal(t, []string{"errors", "*"}, seriesNames(series))
	require.Equal(t, []query.Point{point(1000, 1)}, series[0].Points)
}

func TestDecodeKeyAsString(t *testing.T) {
	q := parseQuery(t, `{
		"timeField": "@timestamp",
		"bucketAggs": [
			{"id": "3", "type": "histogram", "field": "bytes", "settings": {"interval": "10"}},
			{"id": "2", "type": "date_histogram", "field": "@timestamp"}
		]
	}`)

	series := decode(t, q, `{
		"aggregations": {
			"3": {
				"buckets": [
					{"key": 10, "2": {"buckets": [{"key": 1000, "doc_count": 1}]}},
					{"key": 20, "key_as_string": "twenty", "2": {"buckets": [{"key": 1000, "doc_count": 2}]}}
				]
			}
		}
	}`)

	require.Equal(t, []string{"10", "twenty"}, seriesNames(series))
}

func TestDecodeBackendError(t *testing.T) {
	testCases := []struct {
		name           string
		response       string
		expectedReason string
	}{
		{
			name:           "root cause",
			response:       `{"error": {"root_cause": [{"type": "x", "reason": "all shards failed"}], "type": "y", "reason": "other"}}`,
			expectedReason: "all shards failed",
		},
		{
			name:           "reason",
			response:       `{"error": {"type": "parse_exception", "reason": "failed to parse"}}`,
			expectedReason: "failed to parse",
		},
		{
			name:           "unknown",
			response:       `{"error": {"type": "mystery"}}`,
			expectedReason: query.UnknownBackendErrorReason,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			q := parseQuery(t, termsAndDateHistogramQuery)

			_, err := Decode(q, []byte(testCase.response), query.FormatTimeSeries)

			var backendErr *query.BackendError
			require.ErrorAs(t, err, &backendErr)
			require.Equal(t, testCase.expectedReason, err.Error())
			require.NotEmpty(t, backendErr.Raw)
		})
	}
}

func TestDecodeHits(t *testing.T) {
	q := parseQuery(t, `{
		"refId": "B",
		"timeField": "@timestamp",
		"metrics": [{"id": "1", "type": "raw_document"}]
	}`)

	response := `{
		"hits": {
			"total": {"value": 120, "relation": "eq"},
			"hits": [
				{
					"_id": "1",
					"_type": "_doc",
					"_index": "logs",
					"_source": {"@timestamp": "2023-01-01T00:00:00Z", "http": {"status": 200}},
					"fields": {"bytes": [512]}
				}
			]
		}
	}`

	series := decode(t, q, response)
	require.Len(t, series, 1)
	require.Equal(t, query.SeriesTypeDocs, series[0].Type)
	require.Equal(t, "B", series[0].RefID)
	require.Equal(t, 120, series[0].Total)
	require.Equal(t, []map[string]any{
		{
			"_id":         "1",
			"_type":       "_doc",
			"_index":      "logs",
			"@timestamp":  "2023-01-01T00:00:00Z",
			"http.status": float64(200),
			"bytes":       []any{float64(512)},
		},
	}, series[0].Docs)

	logs, err := Decode(q, []byte(response), query.FormatLogs)
	require.NoError(t, err)
	require.Equal(t, query.VisualisationLogs, logs[0].Meta.PreferredVisualisation)

	table, err := Decode(q, []byte(response), query.FormatTable)
	require.NoError(t, err)
	require.Equal(t, query.SeriesTypeTable, table[0].Type)
	require.Equal(t, []query.Column{
		{Text: "_id"},
		{Text: "_type"},
		{Text: "_index"},
		{Text: "@timestamp"},
		{Text: "bytes"},
		{Text: "http.status"},
	}, table[0].Columns)
}

func TestDecodeHitsWithNumericTotal(t *testing.T) {
	q := parseQuery(t, `{"timeField": "@timestamp", "metrics": [{"id": "1", "type": "raw_data"}]}`)

	series := decode(t, q, `{"hits": {"total": 3, "hits": [{"_id": "1", "_source": {}}]}}`)

	require.Len(t, series, 1)
	require.Equal(t, 3, series[0].Total)
}

func TestDecodeMultiSearch(t *testing.T) {
	queries := []query.Query{
		parseQuery(t, `{"refId": "A", "timeField": "@timestamp"}`),
		parseQuery(t, `{"refId": "B", "timeField": "@timestamp", "alias": "errors"}`),
	}

	series, err := DecodeMultiSearch(queries, []byte(`{
		"responses": [
			{"aggregations": {"2": {"buckets": [{"key": 1000, "doc_count": 1}]}}},
			{"aggregations": {"2": {"buckets": [{"key": 1000, "doc_count": 2}]}}}
		]
	}`), query.FormatTimeSeries)
	require.NoError(t, err)

	require.Len(t, series, 2)
	require.Equal(t, "A", series[0].RefID)
	require.Equal(t, "Count", series[0].Name)
	require.Equal(t, "B", series[1].RefID)
	require.Equal(t, "errors", series[1].Name)
	require.Equal(t, []query.Point{point(1000, 2)}, series[1].Points)

	_, err = DecodeMultiSearch(queries, []byte(`{
		"responses": [
			{"aggregations": {}},
			{"error": {"root_cause": [{"reason": "no such index"}]}, "status": 404}
		]
	}`), query.FormatTimeSeries)
	var backendErr *query.BackendError
	require.ErrorAs(t, err, &backendErr)
	require.Equal(t, "no such index", backendErr.Reason)
}
