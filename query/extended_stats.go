package query

import "hermannm.dev/enumnames"

type ExtendedStat uint8

const (
	ExtendedStatAverage ExtendedStat = iota + 1
	ExtendedStatMin
	ExtendedStatMax
	ExtendedStatSum
	ExtendedStatCount
	ExtendedStatStdDeviation
	ExtendedStatStdDeviationBoundsUpper
	ExtendedStatStdDeviationBoundsLower
)

// AllExtendedStats lists every statistic in the order series and table columns are emitted.
var AllExtendedStats = []ExtendedStat{
	ExtendedStatAverage,
	ExtendedStatMin,
	ExtendedStatMax,
	ExtendedStatSum,
	ExtendedStatCount,
	ExtendedStatStdDeviation,
	ExtendedStatStdDeviationBoundsUpper,
	ExtendedStatStdDeviationBoundsLower,
}

var extendedStatMap = enumnames.NewMap(map[ExtendedStat]string{
	ExtendedStatAverage:                 "avg",
	ExtendedStatMin:                     "min",
	ExtendedStatMax:                     "max",
	ExtendedStatSum:                     "sum",
	ExtendedStatCount:                   "count",
	ExtendedStatStdDeviation:            "std_deviation",
	ExtendedStatStdDeviationBoundsUpper: "std_deviation_bounds_upper",
	ExtendedStatStdDeviationBoundsLower: "std_deviation_bounds_lower",
})

var extendedStatLabels = map[ExtendedStat]string{
	ExtendedStatAverage:                 "Avg",
	ExtendedStatMin:                     "Min",
	ExtendedStatMax:                     "Max",
	ExtendedStatSum:                     "Sum",
	ExtendedStatCount:                   "Count",
	ExtendedStatStdDeviation:            "Std Dev",
	ExtendedStatStdDeviationBoundsUpper: "Std Dev Upper",
	ExtendedStatStdDeviationBoundsLower: "Std Dev Lower",
}

func (stat ExtendedStat) IsValid() bool {
	return extendedStatMap.ContainsEnumValue(stat)
}

func (stat ExtendedStat) String() string {
	return extendedStatMap.GetNameOrFallback(stat, "INVALID_EXTENDED_STAT")
}

func (stat ExtendedStat) Label() string {
	return extendedStatLabels[stat]
}

// IsStdDeviationBound is true for the statistics the backend nests under std_deviation_bounds.
func (stat ExtendedStat) IsStdDeviationBound() bool {
	return stat == ExtendedStatStdDeviationBoundsUpper || stat == ExtendedStatStdDeviationBoundsLower
}

func (stat ExtendedStat) MarshalJSON() ([]byte, error) {
	return extendedStatMap.MarshalToNameJSON(stat)
}

func (stat *ExtendedStat) UnmarshalJSON(bytes []byte) error {
	return extendedStatMap.UnmarshalFromNameJSON(bytes, stat)
}
