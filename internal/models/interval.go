package models

import (
	"fmt"
	"time"
)

// Interval is a candle resolution such as "1m" or "1h".
type Interval struct {
	Name     string
	Duration time.Duration
	// Refresh is the continuous aggregate refresh period, always shorter
	// than Duration.
	Refresh time.Duration
}

var supportedIntervals = []Interval{
	{Name: "1m", Duration: time.Minute, Refresh: 30 * time.Second},
	{Name: "5m", Duration: 5 * time.Minute, Refresh: time.Minute},
	{Name: "10m", Duration: 10 * time.Minute, Refresh: 2 * time.Minute},
	{Name: "30m", Duration: 30 * time.Minute, Refresh: 5 * time.Minute},
	{Name: "1h", Duration: time.Hour, Refresh: 10 * time.Minute},
	{Name: "1d", Duration: 24 * time.Hour, Refresh: time.Hour},
}

// SupportedIntervals returns every interval the system can aggregate.
func SupportedIntervals() []Interval {
	out := make([]Interval, len(supportedIntervals))
	copy(out, supportedIntervals)
	return out
}

// ParseInterval looks up a supported interval by name.
func ParseInterval(name string) (Interval, error) {
	for _, iv := range supportedIntervals {
		if iv.Name == name {
			return iv, nil
		}
	}
	return Interval{}, fmt.Errorf("unsupported interval %q", name)
}

// ParseIntervals resolves a list of interval names, rejecting duplicates.
func ParseIntervals(names []string) ([]Interval, error) {
	seen := make(map[string]struct{}, len(names))
	out := make([]Interval, 0, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate interval %q", name)
		}
		seen[name] = struct{}{}
		iv, err := ParseInterval(name)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, nil
}

// Millis returns the interval width in milliseconds.
func (i Interval) Millis() int64 {
	return i.Duration.Milliseconds()
}

// BucketStart returns floor(eventTime / d) * d for the interval width d.
func (i Interval) BucketStart(eventTime int64) int64 {
	d := i.Millis()
	b := eventTime / d * d
	if eventTime < 0 && eventTime%d != 0 {
		b -= d
	}
	return b
}

// ViewName is the name of the continuous aggregate backing this interval.
func (i Interval) ViewName() string {
	return "candles_" + i.Name
}
