package market

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

// LoadCSV reads candles from a CSV file with a header row of
// start,open,high,low,close[,volume]. start is unix milliseconds or RFC3339.
func LoadCSV(path string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open candle file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse candle file: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("candle file %s has no data rows", path)
	}

	col := map[string]int{}
	for i, name := range rows[0] {
		col[name] = i
	}
	for _, required := range []string{"start", "open", "high", "low", "close"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("candle file missing column %q", required)
		}
	}

	candles := make([]Candle, 0, len(rows)-1)
	for line, row := range rows[1:] {
		ts, err := parseTimestamp(row[col["start"]])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line+2, err)
		}
		c := Candle{OpenTime: ts}
		if c.Open, err = strconv.ParseFloat(row[col["open"]], 64); err != nil {
			return nil, fmt.Errorf("row %d: bad open: %w", line+2, err)
		}
		if c.High, err = strconv.ParseFloat(row[col["high"]], 64); err != nil {
			return nil, fmt.Errorf("row %d: bad high: %w", line+2, err)
		}
		if c.Low, err = strconv.ParseFloat(row[col["low"]], 64); err != nil {
			return nil, fmt.Errorf("row %d: bad low: %w", line+2, err)
		}
		if c.Close, err = strconv.ParseFloat(row[col["close"]], 64); err != nil {
			return nil, fmt.Errorf("row %d: bad close: %w", line+2, err)
		}
		if vi, ok := col["volume"]; ok && vi < len(row) {
			c.Volume, _ = strconv.ParseFloat(row[vi], 64)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
	}
	return t.UTC(), nil
}
