// Package replay feeds recorded ticks from CSV files back through the
// live decision stack. Both the replay command and the evolution
// manager drive agents this way, so a backtest exercises exactly the
// code that trades.
package replay

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Row is one parsed tick.
//
// Supported CSV shapes:
//
//  1. time,symbol,price
//  2. time,symbol,bid,ask   (price = mid)
//
// A header row starting with "time" is skipped.
type Row struct {
	Symbol string
	Price  float64
	Time   time.Time
}

// CSV streams rows from path into fn in file order. fn returning an
// error stops the replay; so does ctx cancellation.
func CSV(ctx context.Context, path string, fn func(Row) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	first := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if first {
			first = false
			if len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "time") {
				continue
			}
		}
		row, err := parseRow(rec)
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// Load reads the whole file into memory. The evolution manager replays
// the same window once per candidate, so parsing once pays off.
func Load(path string) ([]Row, error) {
	var rows []Row
	err := CSV(context.Background(), path, func(r Row) error {
		rows = append(rows, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func parseRow(rec []string) (Row, error) {
	if len(rec) < 3 {
		return Row{}, fmt.Errorf("bad row (need time,symbol,price or time,symbol,bid,ask): %v", rec)
	}

	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(rec[0]))
	if err != nil {
		return Row{}, fmt.Errorf("bad time %q: %w", rec[0], err)
	}
	symbol := strings.TrimSpace(rec[1])

	if len(rec) >= 4 && strings.TrimSpace(rec[3]) != "" {
		bid, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err != nil {
			return Row{}, fmt.Errorf("bad bid %q: %w", rec[2], err)
		}
		ask, err := strconv.ParseFloat(strings.TrimSpace(rec[3]), 64)
		if err != nil {
			return Row{}, fmt.Errorf("bad ask %q: %w", rec[3], err)
		}
		return Row{Symbol: symbol, Price: (bid + ask) / 2, Time: ts}, nil
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
	if err != nil {
		return Row{}, fmt.Errorf("bad price %q: %w", rec[2], err)
	}
	return Row{Symbol: symbol, Price: price, Time: ts}, nil
}
