package requirements

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ReadCSV reads a header row followed by data rows. Short rows leave the
// trailing columns out; fully blank rows are skipped.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("btchat: read csv: no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("btchat: read csv header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var rows []Row
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("btchat: read csv line %d: %w", line, err)
		}

		row := make(Row, len(header))
		blank := true
		for i, h := range header {
			if h == "" || i >= len(record) {
				continue
			}
			v := strings.TrimSpace(record[i])
			row[h] = v
			if v != "" {
				blank = false
			}
		}
		if !blank {
			rows = append(rows, row)
		}
	}

	return rows, nil
}
