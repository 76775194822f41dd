package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	xutil "github.com/victorescoto/fiap-ml-finance/pkg/util"
)

// Canonical column names of the stored dataset.
const (
	ColTimestamp = "timestamp"
	ColOpen      = "open"
	ColHigh      = "high"
	ColLow       = "low"
	ColClose     = "close"
	ColVolume    = "volume"
	ColSymbol    = "symbol"
	ColInterval  = "interval"
)

// Column is one source column. Name holds every header level, so a flat frame has one
// level and a provider multi-index such as ("Close", "AAPL") has two.
type Column struct {
	Name   []string
	Values []any
}

// RawFrame is an upstream response before normalization, column-oriented.
type RawFrame struct {
	Columns []Column
}

// Len returns the number of rows (length of the longest column).
func (f *RawFrame) Len() int {
	if f == nil {
		return 0
	}
	n := 0
	for _, c := range f.Columns {
		if len(c.Values) > n {
			n = len(c.Values)
		}
	}
	return n
}

// Empty reports whether the frame carries no rows.
func (f *RawFrame) Empty() bool { return f.Len() == 0 }

// priceAliases maps every known provider header to its canonical field.
// Matching is case-insensitive on each header level.
var priceAliases = map[string]string{
	"open":      ColOpen,
	"o":         ColOpen,
	"1. open":   ColOpen,
	"high":      ColHigh,
	"h":         ColHigh,
	"2. high":   ColHigh,
	"low":       ColLow,
	"l":         ColLow,
	"3. low":    ColLow,
	"close":     ColClose,
	"c":         ColClose,
	"4. close":  ColClose,
	"volume":    ColVolume,
	"v":         ColVolume,
	"vol":       ColVolume,
	"5. volume": ColVolume,
}

// timeAliases are the accepted names of the time axis. Any header containing
// "timestamp" is accepted as well.
var timeAliases = map[string]struct{}{
	"timestamp": {},
	"datetime":  {},
	"date":      {},
	"time":      {},
	"t":         {},
	"index":     {},
}

var requiredPrice = []string{ColOpen, ColHigh, ColLow, ColClose, ColVolume}

// Normalize maps a provider frame onto the canonical candle schema, attaching symbol and
// interval and keeping rows in the order received. A frame whose headers cannot be
// mapped fails with models.ErrSchemaMismatch and yields no rows at all. Rows with a
// missing time or price are skipped, as the provider emits them for unfinished bars.
func Normalize(f *RawFrame, symbol string, interval models.Interval) ([]models.Candle, error) {
	if f.Empty() {
		return nil, nil
	}
	idx, err := resolveColumns(f)
	if err != nil {
		return nil, err
	}
	n := f.Len()
	for name, i := range idx {
		if len(f.Columns[i].Values) != n {
			return nil, fmt.Errorf("%w: column %q has %d values, want %d", models.ErrSchemaMismatch, name, len(f.Columns[i].Values), n)
		}
	}

	sym := strings.ToUpper(strings.TrimSpace(symbol))
	out := make([]models.Candle, 0, n)
	for r := 0; r < n; r++ {
		ts, ok := toTime(f.Columns[idx[ColTimestamp]].Values[r])
		if !ok {
			continue
		}
		o, ok1 := toFloat(f.Columns[idx[ColOpen]].Values[r])
		h, ok2 := toFloat(f.Columns[idx[ColHigh]].Values[r])
		l, ok3 := toFloat(f.Columns[idx[ColLow]].Values[r])
		c, ok4 := toFloat(f.Columns[idx[ColClose]].Values[r])
		if !(ok1 && ok2 && ok3 && ok4) {
			continue
		}
		v, ok := toFloat(f.Columns[idx[ColVolume]].Values[r])
		if !ok {
			v = 0
		}
		out = append(out, models.Candle{
			Timestamp: ts,
			Symbol:    sym,
			Interval:  interval,
			Open:      o,
			High:      h,
			Low:       l,
			Close:     c,
			Volume:    v,
		})
	}
	return out, nil
}

// resolveColumns assigns columns to canonical fields, shallowest header level first,
// so a field level wins over a ticker level. Single letter aliases only apply to flat
// columns since tickers such as "T" or "C" share those names.
func resolveColumns(f *RawFrame) (map[string]int, error) {
	idx := make(map[string]int, 6)
	used := make(map[int]bool, len(f.Columns))
	depth := 0
	for _, col := range f.Columns {
		if len(col.Name) > depth {
			depth = len(col.Name)
		}
	}
	for d := 0; d < depth; d++ {
		for i, col := range f.Columns {
			if used[i] || d >= len(col.Name) {
				continue
			}
			name := strings.ToLower(strings.TrimSpace(col.Name[d]))
			if name == "" || (len(name) == 1 && levels(col) > 1) {
				continue
			}
			canon, ok := priceAliases[name]
			if !ok && isTimeHeader(name) {
				canon, ok = ColTimestamp, true
			}
			if !ok {
				continue
			}
			if _, seen := idx[canon]; !seen {
				idx[canon] = i
				used[i] = true
			}
		}
	}

	var missing []string
	if _, ok := idx[ColTimestamp]; !ok {
		missing = append(missing, ColTimestamp)
	}
	for _, name := range requiredPrice {
		if _, ok := idx[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: no column for %s", models.ErrSchemaMismatch, strings.Join(missing, ", "))
	}
	return idx, nil
}

// levels counts the non-empty header levels of a column.
func levels(c Column) int {
	n := 0
	for _, l := range c.Name {
		if strings.TrimSpace(l) != "" {
			n++
		}
	}
	return n
}

func isTimeHeader(name string) bool {
	if _, ok := timeAliases[name]; ok {
		return true
	}
	return strings.Contains(name, "timestamp")
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return toTime(*t)
	case int64:
		return epoch(t)
	case int:
		return epoch(int64(t))
	case float64:
		if math.IsNaN(t) {
			return time.Time{}, false
		}
		return epoch(int64(t))
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return epoch(n)
	case string:
		ts, ok := xutil.ParseTime(strings.TrimSpace(t))
		if !ok {
			return time.Time{}, false
		}
		return ts.UTC(), true
	default:
		return time.Time{}, false
	}
}

// epoch accepts seconds or milliseconds since the unix epoch.
func epoch(n int64) (time.Time, bool) {
	if n <= 0 {
		return time.Time{}, false
	}
	if n > 1e11 {
		return time.UnixMilli(n).UTC(), true
	}
	return time.Unix(n, 0).UTC(), true
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		x, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
