package candle

import (
	"errors"
	"time"
)

// Granularity identifiers as the exchange names them.
const (
	OneMinute     = "ONE_MINUTE"
	FiveMinute    = "FIVE_MINUTE"
	FifteenMinute = "FIFTEEN_MINUTE"
	ThirtyMinute  = "THIRTY_MINUTE"
	OneHour       = "ONE_HOUR"
	TwoHour       = "TWO_HOUR"
	SixHour       = "SIX_HOUR"
	OneDay        = "ONE_DAY"
)

// ParseGranularity maps a granularity name to its bucket duration.
func ParseGranularity(granularity string) (time.Duration, error) {
	d := GranularityDuration(granularity)
	if d == 0 {
		return 0, errors.New("unsupported granularity")
	}
	return d, nil
}

// GranularityDuration returns the bucket duration, or 0 when unknown.
func GranularityDuration(granularity string) time.Duration {
	switch granularity {
	case OneMinute:
		return time.Minute
	case FiveMinute:
		return 5 * time.Minute
	case FifteenMinute:
		return 15 * time.Minute
	case ThirtyMinute:
		return 30 * time.Minute
	case OneHour:
		return time.Hour
	case TwoHour:
		return 2 * time.Hour
	case SixHour:
		return 6 * time.Hour
	case OneDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// GranularitySeconds returns the bucket length in seconds, or 0 when unknown.
func GranularitySeconds(granularity string) int {
	return int(GranularityDuration(granularity) / time.Second)
}

// SupportedGranularities returns all granularities the exchange serves.
func SupportedGranularities() []string {
	return []string{OneMinute, FiveMinute, FifteenMinute, ThirtyMinute, OneHour, TwoHour, SixHour, OneDay}
}

// IsValidGranularity checks if a granularity is supported
func IsValidGranularity(granularity string) bool {
	return GranularityDuration(granularity) > 0
}
