package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
)

// FileName is the single data file kept inside every partition directory.
const FileName = "data.parquet"

// Partition addresses one physical group of candles. Day is zero for the daily store,
// which partitions by month only.
type Partition struct {
	Interval models.Interval
	Symbol   string
	Year     int
	Month    int
	Day      int
}

// DailyGranularity reports whether the interval partitions down to the day.
func DailyGranularity(iv models.Interval) bool { return iv == models.Interval1h }

// PartitionKey returns the date tuple a candle belongs to for the given interval.
func PartitionKey(c models.Candle, iv models.Interval) (year, month, day int) {
	ts := c.Timestamp.UTC()
	year, month = ts.Year(), int(ts.Month())
	if DailyGranularity(iv) {
		day = ts.Day()
	}
	return year, month, day
}

// PartitionFor returns the partition that stores c.
func PartitionFor(c models.Candle) Partition {
	y, m, d := PartitionKey(c, c.Interval)
	return Partition{Interval: c.Interval, Symbol: c.Symbol, Year: y, Month: m, Day: d}
}

// SeriesPrefix is the common prefix of every partition of one (symbol, interval) series.
func SeriesPrefix(symbol string, iv models.Interval) string {
	return fmt.Sprintf("prices_%s/interval=%s/symbol=%s/", iv, iv, symbol)
}

// Prefix is the partition directory, with a trailing slash.
func (p Partition) Prefix() string {
	s := SeriesPrefix(p.Symbol, p.Interval) + fmt.Sprintf("year=%d/month=%d/", p.Year, p.Month)
	if DailyGranularity(p.Interval) {
		s += fmt.Sprintf("day=%d/", p.Day)
	}
	return s
}

// Path is the object key of the partition data file.
func (p Partition) Path() string { return p.Prefix() + FileName }

// Before orders partitions by date.
func (p Partition) Before(o Partition) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	if p.Month != o.Month {
		return p.Month < o.Month
	}
	return p.Day < o.Day
}

func (p Partition) String() string { return strings.TrimSuffix(p.Prefix(), "/") }

// ParseKey recovers the partition from any object key inside a partition directory.
// Keys outside the layout return false.
func ParseKey(key string) (Partition, bool) {
	var p Partition
	parts := strings.Split(strings.TrimPrefix(key, "/"), "/")
	if len(parts) < 5 || !strings.HasPrefix(parts[0], "prices_") {
		return p, false
	}
	for _, seg := range parts[1:] {
		name, value, ok := strings.Cut(seg, "=")
		if !ok {
			continue
		}
		switch name {
		case "interval":
			p.Interval = models.Interval(value)
		case "symbol":
			p.Symbol = value
		case "year", "month", "day":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Partition{}, false
			}
			switch name {
			case "year":
				p.Year = n
			case "month":
				p.Month = n
			default:
				p.Day = n
			}
		}
	}
	if p.Interval == "" || p.Symbol == "" || p.Year == 0 || p.Month == 0 {
		return Partition{}, false
	}
	if DailyGranularity(p.Interval) && p.Day == 0 {
		return Partition{}, false
	}
	if !DailyGranularity(p.Interval) {
		p.Day = 0
	}
	return p, true
}

// SortPartitions sorts ascending by date.
func SortPartitions(ps []Partition) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Before(ps[j]) })
}

// GroupByPartition splits rows into their partitions, keeping the input order inside
// each group. The returned keys are sorted ascending.
func GroupByPartition(rows []models.Candle) (map[Partition][]models.Candle, []Partition) {
	groups := make(map[Partition][]models.Candle)
	var keys []Partition
	for _, r := range rows {
		p := PartitionFor(r)
		if _, ok := groups[p]; !ok {
			keys = append(keys, p)
		}
		groups[p] = append(groups[p], r)
	}
	SortPartitions(keys)
	return groups, keys
}
