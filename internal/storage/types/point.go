package types

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/carouseldb/carousel/internal/errors"
)

// Point represents a single measurement in a time series.
// This is the primary data unit flowing through the storage system.
type Point struct {
	// Series is the canonical series key: metric name followed by
	// space-separated tag=value pairs sorted by tag name.
	Series string

	// Timestamp is nanoseconds since the Unix epoch.
	Timestamp int64

	// Value is the measured quantity.
	Value float64
}

// MaxSeriesLen bounds a series key so its length always fits the
// encoding's 2-byte prefix.
const MaxSeriesLen = 1<<16 - 1

// TimestampTime returns the timestamp as a time.Time in UTC.
func (p Point) TimestampTime() time.Time {
	return time.Unix(0, p.Timestamp).UTC()
}

// EncodedSize returns the number of bytes the point occupies when
// appended to a volume: a length-prefixed series key plus fixed-width
// timestamp and value.
func (p Point) EncodedSize() int64 {
	return int64(2+len(p.Series)) + 8 + 8
}

// Validate reports whether the point is admissible for ingestion.
// Points with empty or oversized series keys or non-finite values are
// rejected before they reach the write cache.
func (p Point) Validate() error {
	if p.Series == "" {
		return errors.ErrEmptySeries
	}
	if len(p.Series) > MaxSeriesLen {
		return errors.Wrapf(errors.ErrDecode, "series key of %d bytes exceeds %d", len(p.Series), MaxSeriesLen)
	}
	if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
		return errors.Wrapf(errors.ErrNonFiniteValue, "%v", p.Value)
	}
	return nil
}

// Direction selects the time ordering of a query result stream.
type Direction int

const (
	// Forward returns points in ascending timestamp order.
	Forward Direction = iota
	// Backward returns points in descending timestamp order.
	Backward
)

// String returns a human-readable representation of the direction.
func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

// CanonicalSeries parses a raw series key of the form
// "metric tag=value [tag=value ...]" and returns it in canonical form
// with tags sorted by name. Tag order in the input is irrelevant:
// "temp b=2 a=1" and "temp a=1 b=2" name the same series.
func CanonicalSeries(raw string) (string, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty series key")
	}

	metric := fields[0]
	if strings.Contains(metric, "=") {
		return "", fmt.Errorf("series key %q: missing metric name", raw)
	}

	tags := fields[1:]
	for _, tag := range tags {
		eq := strings.Index(tag, "=")
		if eq <= 0 || eq == len(tag)-1 {
			return "", fmt.Errorf("series key %q: malformed tag %q", raw, tag)
		}
	}
	sort.Strings(tags)

	if len(tags) == 0 {
		return metric, nil
	}
	return metric + " " + strings.Join(tags, " "), nil
}

// SeriesMetric returns the metric name portion of a canonical series key.
func SeriesMetric(series string) string {
	if i := strings.IndexByte(series, ' '); i >= 0 {
		return series[:i]
	}
	return series
}

// SeriesTags returns the tag set of a canonical series key.
func SeriesTags(series string) map[string]string {
	fields := strings.Fields(series)
	if len(fields) <= 1 {
		return nil
	}
	tags := make(map[string]string, len(fields)-1)
	for _, f := range fields[1:] {
		if eq := strings.IndexByte(f, '='); eq > 0 {
			tags[f[:eq]] = f[eq+1:]
		}
	}
	return tags
}

// Timestamp layouts accepted on the wire: ISO-8601 basic format with
// optional fractional seconds, always interpreted as UTC.
const (
	timestampLayout     = "20060102T150405"
	timestampOutLayout  = "20060102T150405.000000000"
	timestampFracLayout = "20060102T150405.999999999"
)

// ParseTimestamp parses a wire timestamp. Accepted forms are a raw
// integer (nanoseconds since epoch) and ISO-8601 basic
// "YYYYMMDDThhmmss[.fffffffff]".
func ParseTimestamp(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	if ns, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ns, nil
	}

	layout := timestampLayout
	if strings.ContainsRune(s, '.') {
		layout = timestampFracLayout
	}
	t, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UnixNano(), nil
}

// FormatTimestamp renders a timestamp in the ISO-8601 basic form used
// in query output rows.
func FormatTimestamp(ns int64) string {
	return time.Unix(0, ns).UTC().Format(timestampOutLayout)
}
