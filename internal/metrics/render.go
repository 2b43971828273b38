package metrics

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const timeLayout = "2006-01-02 15:04:05"

// One descriptor per supported metric, in the fixed rendering order.
type fieldDesc struct {
	key    string
	label  string
	unit   string
	format string
}

var fieldOrder = []fieldDesc{
	{key: "lock", label: "Lock"},
	{key: "level", label: "Level", unit: "dBm", format: "%.2f"},
	{key: "snr", label: "SNR", unit: "dB", format: "%.2f"},
	{key: "ber", label: "BER", format: "%.2e"},
	{key: "fer", label: "FER", format: "%.2e"},
	{key: "quality", label: "Signal Quality", unit: "%", format: "%.1f"},
	{key: "pkt_err", label: "Packet Errors", format: "%d"},
}

var labelToKey = func() map[string]string {
	m := make(map[string]string, len(fieldOrder))
	for _, d := range fieldOrder {
		m[d.label] = d.key
	}
	return m
}()

// Render formats one snapshot as the canonical single log line: timestamp
// followed by "Label = value[unit];" fragments in fixed order, absent fields
// omitted.
func Render(snap Snapshot, utc bool) string {
	t := snap.Time
	if utc {
		t = t.UTC()
	} else {
		t = t.Local()
	}

	var b strings.Builder
	b.WriteString(t.Format(timeLayout))
	b.WriteString(" ")

	r := snap.Record
	for _, d := range fieldOrder {
		var frag string
		switch d.key {
		case "lock":
			if r.Lock {
				frag = "True"
			} else {
				frag = "False"
			}
		case "level":
			frag = renderFloat(r.Level, d)
		case "snr":
			frag = renderFloat(r.SNR, d)
		case "ber":
			frag = renderFloat(r.BER, d)
		case "fer":
			frag = renderFloat(r.FER, d)
		case "quality":
			frag = renderFloat(r.Quality, d)
		case "pkt_err":
			if r.PktErr != nil {
				frag = strconv.FormatUint(*r.PktErr, 10)
			}
		}
		if frag == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(d.label)
		b.WriteString(" = ")
		b.WriteString(frag)
		b.WriteString(";")
	}
	return b.String()
}

func renderFloat(v *float64, d fieldDesc) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf(d.format, *v) + d.unit
}

// Value is one parsed numeric fragment with its unit suffix, if any.
type Value struct {
	Value float64
	Unit  string
}

// ParsedLine is the result of parsing one rendered log line back.
type ParsedLine struct {
	Time   time.Time
	Lock   bool
	Values map[string]Value // field key -> value, lock excluded
}

// ParseLine reverses Render for the numeric fields. Lines are expected in
// the exact shape Render produces.
func ParseLine(line string) (ParsedLine, error) {
	line = strings.TrimRight(line, "\n")
	if len(line) < len(timeLayout) {
		return ParsedLine{}, errors.New("line too short")
	}
	ts, err := time.Parse(timeLayout, line[:len(timeLayout)])
	if err != nil {
		return ParsedLine{}, errors.Wrap(err, "parse timestamp")
	}

	out := ParsedLine{Time: ts, Values: map[string]Value{}}
	rest := line[len(timeLayout):]
	for _, frag := range strings.Split(rest, ";") {
		frag = strings.TrimSpace(frag)
		if frag == "" {
			continue
		}
		label, raw, ok := strings.Cut(frag, " = ")
		if !ok {
			return ParsedLine{}, errors.Errorf("bad fragment %q", frag)
		}
		key, ok := labelToKey[label]
		if !ok {
			return ParsedLine{}, errors.Errorf("unknown label %q", label)
		}
		if key == "lock" {
			out.Lock = raw == "True"
			continue
		}
		val, err := ParseValue(raw)
		if err != nil {
			return ParsedLine{}, errors.Wrapf(err, "field %s", key)
		}
		out.Values[key] = val
	}
	return out, nil
}

// ParseValue splits a rendered value into its number and unit suffix.
// "-48.26dBm" parses to (-48.26, "dBm").
func ParseValue(raw string) (Value, error) {
	unit := ""
	switch {
	case strings.HasSuffix(raw, "dBm"):
		unit = "dBm"
	case strings.HasSuffix(raw, "dB"):
		unit = "dB"
	case strings.HasSuffix(raw, "%"):
		unit = "%"
	}
	num := strings.TrimSuffix(raw, unit)
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return Value{}, errors.Wrapf(err, "parse %q", raw)
	}
	return Value{Value: v, Unit: unit}, nil
}
