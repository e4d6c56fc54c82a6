package backtest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

// IndexColumn names the optional CSV column carrying the benchmark day change
const IndexColumn = "INDEX"

// LoadTapeCSV reads a tape whose header row names the symbols, one row per cycle
func LoadTapeCSV(r io.Reader) (Tape, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return Tape{}, fmt.Errorf("read header: %w", err)
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.ToUpper(strings.TrimSpace(h))
	}

	tape := Tape{Prices: make(map[string][]decimal.Decimal, len(cols))}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Tape{}, fmt.Errorf("line %d: %w", line, err)
		}
		for i, raw := range rec {
			v, err := decimal.NewFromString(strings.TrimSpace(raw))
			if err != nil {
				return Tape{}, fmt.Errorf("line %d column %s: %w", line, cols[i], err)
			}
			if cols[i] == IndexColumn {
				tape.IndexChange = append(tape.IndexChange, v)
				continue
			}
			tape.Prices[cols[i]] = append(tape.Prices[cols[i]], v)
		}
	}
	return tape, tape.Validate()
}
