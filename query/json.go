package query

import (
	"fmt"
	"slices"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cast"
	"hermannm.dev/wrap"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// The JSON shapes below follow the query editor's format, where settings values are frequently
// strings even when numeric (e.g. "size": "10").

type rawBucketAggregation struct {
	ID       string      `json:"id"`
	Type     BucketKind  `json:"type"`
	Field    string      `json:"field"`
	Settings settingsMap `json:"settings"`
}

func (agg *BucketAggregation) UnmarshalJSON(bytes []byte) error {
	var raw rawBucketAggregation
	if err := jsonCodec.Unmarshal(bytes, &raw); err != nil {
		return wrap.Error(err, "invalid bucket aggregation")
	}

	settings, err := raw.Settings.toBucketSettings(raw.Type)
	if err != nil {
		return wrap.Errorf(err, "invalid settings for bucket aggregation '%s'", raw.ID)
	}

	*agg = BucketAggregation{ID: raw.ID, Field: raw.Field, Settings: settings}
	return nil
}

func (settings settingsMap) toBucketSettings(kind BucketKind) (BucketSettings, error) {
	switch kind {
	case BucketKindTerms:
		var terms TermsSettings
		var err error

		if terms.Size, _, err = settings.int("size"); err != nil {
			return nil, err
		}
		if terms.Order, err = settings.sortOrder("order"); err != nil {
			return nil, err
		}
		if terms.OrderBy, err = ParseTermsOrderBy(settings.string("orderBy")); err != nil {
			return nil, err
		}
		minDocCount, isSet, err := settings.int("min_doc_count")
		if err != nil {
			return nil, err
		}
		if isSet {
			terms.MinDocCount = &minDocCount
		}
		terms.Missing = settings.string("missing")
		return terms, nil
	case BucketKindHistogram:
		histogram := HistogramSettings{
			Interval: settings.string("interval"),
			Missing:  settings.string("missing"),
		}
		var err error
		if histogram.MinDocCount, _, err = settings.int("min_doc_count"); err != nil {
			return nil, err
		}
		return histogram, nil
	case BucketKindDateHistogram:
		dateHistogram := DateHistogramSettings{
			Interval: settings.string("interval"),
			Offset:   settings.string("offset"),
			Missing:  settings.string("missing"),
		}
		if dateHistogram.Interval == "" {
			dateHistogram.Interval = AutoInterval
		}
		var err error
		if dateHistogram.MinDocCount, _, err = settings.int("min_doc_count"); err != nil {
			return nil, err
		}
		if dateHistogram.TrimEdges, _, err = settings.int("trimEdges"); err != nil {
			return nil, err
		}
		return dateHistogram, nil
	case BucketKindFilters:
		rawFilters, _ := settings["filters"].([]any)
		filters := FiltersSettings{Filters: make([]Filter, 0, len(rawFilters))}
		for i, rawFilter := range rawFilters {
			filterMap, ok := rawFilter.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("filter %d is not an object", i)
			}
			filters.Filters = append(filters.Filters, Filter{
				Query: cast.ToString(filterMap["query"]),
				Label: cast.ToString(filterMap["label"]),
			})
		}
		return filters, nil
	case BucketKindGeoHashGrid:
		var geoHashGrid GeoHashGridSettings
		var err error
		if geoHashGrid.Precision, _, err = settings.int("precision"); err != nil {
			return nil, err
		}
		return geoHashGrid, nil
	default:
		return nil, fmt.Errorf("unsupported bucket aggregation type '%v'", kind)
	}
}

type rawMetricAggregation struct {
	ID                string                `json:"id"`
	Type              MetricKind            `json:"type"`
	Field             string                `json:"field"`
	Hide              bool                  `json:"hide"`
	Settings          settingsMap           `json:"settings"`
	Meta              map[string]any        `json:"meta"`
	PipelineAgg       string                `json:"pipelineAgg"`
	PipelineVariables []rawPipelineVariable `json:"pipelineVariables"`
}

type rawPipelineVariable struct {
	Name        string `json:"name"`
	PipelineAgg string `json:"pipelineAgg"`
}

func (metric *MetricAggregation) UnmarshalJSON(bytes []byte) error {
	var raw rawMetricAggregation
	if err := jsonCodec.Unmarshal(bytes, &raw); err != nil {
		return wrap.Error(err, "invalid metric aggregation")
	}

	settings, err := raw.toMetricSettings()
	if err != nil {
		return wrap.Errorf(err, "invalid settings for metric '%s'", raw.ID)
	}

	*metric = MetricAggregation{ID: raw.ID, Field: raw.Field, Hide: raw.Hide, Settings: settings}
	return nil
}

func (raw rawMetricAggregation) toMetricSettings() (MetricSettings, error) {
	settings := raw.Settings

	switch raw.Type {
	case MetricKindCount:
		return CountSettings{}, nil
	case MetricKindAverage, MetricKindSum, MetricKindMax, MetricKindMin, MetricKindCardinality:
		return FieldStatSettings{Type: raw.Type, Extra: settings.extra()}, nil
	case MetricKindPercentiles:
		percentiles := PercentilesSettings{Extra: settings.extra("percents")}
		if rawPercents, ok := settings["percents"].([]any); ok {
			percentiles.Percents = make([]string, 0, len(rawPercents))
			for _, percent := range rawPercents {
				percentiles.Percents = append(percentiles.Percents, cast.ToString(percent))
			}
		}
		return percentiles, nil
	case MetricKindExtendedStats:
		extendedStats := ExtendedStatsSettings{Extra: settings.extra()}
		if raw.Meta == nil {
			extendedStats.Stats = DefaultExtendedStats
		} else {
			for _, stat := range AllExtendedStats {
				if enabled, _ := cast.ToBoolE(raw.Meta[stat.String()]); enabled {
					extendedStats.Stats = append(extendedStats.Stats, stat)
				}
			}
		}
		return extendedStats, nil
	case MetricKindMovingAverage, MetricKindDerivative, MetricKindCumulativeSum:
		pipeline := PipelineSettings{Type: raw.Type, Extra: settings.extra("buckets_path")}
		if raw.PipelineAgg != "" {
			pipeline.Ref = RefByID(raw.PipelineAgg)
		} else {
			pipeline.Ref = RefLiteral(settings.string("buckets_path"))
		}
		return pipeline, nil
	case MetricKindBucketScript:
		bucketScript := BucketScriptSettings{
			Script: settings.string("script"),
			Extra:  settings.extra("script"),
		}
		if raw.PipelineVariables != nil {
			bucketScript.Variables = make([]PipelineVariable, 0, len(raw.PipelineVariables))
			for _, variable := range raw.PipelineVariables {
				bucketScript.Variables = append(bucketScript.Variables, PipelineVariable{
					Name: variable.Name,
					Ref:  RefByID(variable.PipelineAgg),
				})
			}
		}
		return bucketScript, nil
	case MetricKindRawDocument, MetricKindRawData, MetricKindLogs:
		document := DocumentSettings{Type: raw.Type}
		var err error

		sizeKey := "size"
		if raw.Type == MetricKindLogs {
			sizeKey = "limit"
		}
		if document.Size, _, err = settings.int(sizeKey); err != nil {
			return nil, err
		}
		if document.Order, err = settings.sortOrder("order"); err != nil {
			return nil, err
		}
		if document.UseTimeRange, err = settings.bool("useTimeRange", true); err != nil {
			return nil, err
		}
		return document, nil
	default:
		return nil, fmt.Errorf("unsupported metric type '%v'", raw.Type)
	}
}

type settingsMap map[string]any

func (settings settingsMap) int(key string) (value int, isSet bool, err error) {
	raw, ok := settings[key]
	if !ok || raw == nil || raw == "" {
		return 0, false, nil
	}

	value, err = cast.ToIntE(raw)
	if err != nil {
		return 0, false, wrap.Errorf(err, "invalid number for '%s'", key)
	}
	return value, true, nil
}

func (settings settingsMap) string(key string) string {
	raw, ok := settings[key]
	if !ok || raw == nil {
		return ""
	}
	return cast.ToString(raw)
}

func (settings settingsMap) bool(key string, fallback bool) (bool, error) {
	raw, ok := settings[key]
	if !ok || raw == nil || raw == "" {
		return fallback, nil
	}

	value, err := cast.ToBoolE(raw)
	if err != nil {
		return false, wrap.Errorf(err, "invalid boolean for '%s'", key)
	}
	return value, nil
}

// sortOrder returns 0 if the setting is absent.
func (settings settingsMap) sortOrder(key string) (SortOrder, error) {
	switch order := settings.string(key); order {
	case "":
		return 0, nil
	case "asc":
		return SortOrderAscending, nil
	case "desc":
		return SortOrderDescending, nil
	default:
		return 0, &InvalidSortOrderError{Order: order}
	}
}

// extra copies the settings that are passed to the backend verbatim, skipping null values and the
// given keys.
func (settings settingsMap) extra(exclude ...string) map[string]any {
	extra := make(map[string]any, len(settings))
	for key, value := range settings {
		if value == nil || slices.Contains(exclude, key) {
			continue
		}
		extra[key] = value
	}

	return extra
}
