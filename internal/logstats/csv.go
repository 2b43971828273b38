package logstats

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"satmon/internal/metrics"
)

// WriteCSV writes parsed log entries to CSV with a fixed column order.
// Absent fields become empty cells.
func WriteCSV(w io.Writer, entries []metrics.ParsedLine) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{
		"timestamp",
		"lock",
		"level_dbm",
		"snr_db",
		"ber",
		"fer",
		"quality_pct",
		"pkt_err",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, e := range entries {
		record := []string{
			e.Time.UTC().Format(time.RFC3339),
			strconv.FormatBool(e.Lock),
			cell(e, "level"),
			cell(e, "snr"),
			cell(e, "ber"),
			cell(e, "fer"),
			cell(e, "quality"),
			cell(e, "pkt_err"),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

func cell(e metrics.ParsedLine, key string) string {
	v, ok := e.Values[key]
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v.Value, 'g', -1, 64)
}
