package parse

import (
	"strconv"
	"strings"
	"time"
)

// Spanish month names and abbreviations, replaced by their number before
// the date-format ladder runs.
var spanishMonths = []struct {
	name string
	num  string
}{
	{"enero", "01"}, {"ene", "01"},
	{"febrero", "02"}, {"feb", "02"},
	{"marzo", "03"}, {"mar", "03"},
	{"abril", "04"}, {"abr", "04"},
	{"mayo", "05"}, {"may", "05"},
	{"junio", "06"}, {"jun", "06"},
	{"julio", "07"}, {"jul", "07"},
	{"agosto", "08"}, {"ago", "08"},
	{"septiembre", "09"}, {"sept", "09"}, {"sep", "09"},
	{"octubre", "10"}, {"oct", "10"},
	{"noviembre", "11"}, {"nov", "11"},
	{"diciembre", "12"}, {"dic", "12"},
}

// dateLayouts is the ordered format ladder: ISO first, then day-first
// European forms with and without time, then the US form.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/06",
	"2006/01/02",
	"2006.01.02",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"02-01-06",
	"02.01.06",
	"02 01 2006",
	"02 01 06",
	"01/02/2006",
}

// ParseDate converts a raw cell into a date. Spanish month names are
// rewritten to their number first; every layout of the ladder is tried in
// order. Returns nil on total failure, never an error.
func ParseDate(raw string) *time.Time {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return nil
	}

	for _, m := range spanishMonths {
		replaced := false
		for _, delim := range []string{"/", "-", "."} {
			pattern := delim + m.name + delim
			if strings.Contains(s, pattern) {
				s = strings.ReplaceAll(s, pattern, delim+m.num+delim)
				replaced = true
				break
			}
		}
		if replaced {
			continue
		}
		if p := " de " + m.name + " de "; strings.Contains(s, p) {
			s = strings.ReplaceAll(s, p, "/"+m.num+"/")
			break
		}
		if p := " " + m.name + " "; strings.Contains(s, p) {
			s = strings.ReplaceAll(s, p, "/"+m.num+"/")
			break
		}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return &d
	}
	return nil
}

// ParseAge converts a numeric or string age to a float, accepting a comma
// decimal separator. Nil on failure.
func ParseAge(raw string) *float64 {
	s := strings.TrimSpace(strings.ReplaceAll(raw, ",", "."))
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// excelEpoch is the serial-date origin used by Excel (day 0 = 1899-12-30).
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// ParseMic converts free-text laboratory MIC notation to mg/L.
//
// A bare number that, read as an Excel serial date, lands in 1950-1980 is a
// corrupted combined-drug ratio ("4/79" stored as 27851); the month carries
// the MIC. Off-scale ">" values double the shown dilution because the
// series is two-fold. Combined drugs keep the numerator. Nil otherwise.
func ParseMic(raw string) *float64 {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	if s == "" {
		return nil
	}

	if v, err := strconv.ParseFloat(s, 64); err == nil {
		asDate := excelEpoch.AddDate(0, 0, int(v))
		if y := asDate.Year(); y >= 1950 && y <= 1980 {
			month := float64(asDate.Month())
			return &month
		}
		if v > 1024 {
			return nil
		}
		return &v
	}

	s = strings.TrimSpace(strings.TrimPrefix(s, "="))
	s = strings.ReplaceAll(s, "<=", "≤")
	s = strings.ReplaceAll(s, ">=", "≥")

	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return &v
	}

	numerator := func(tail string) *float64 {
		tail = strings.TrimSpace(tail)
		if idx := strings.Index(tail, "/"); idx >= 0 {
			tail = strings.TrimSpace(tail[:idx])
		}
		v, err := strconv.ParseFloat(tail, 64)
		if err != nil {
			return nil
		}
		return &v
	}

	switch {
	case strings.HasPrefix(s, "<"), strings.HasPrefix(s, "≤"):
		return numerator(trimFirstRune(s))
	case strings.HasPrefix(s, ">"), strings.HasPrefix(s, "≥"):
		v := numerator(trimFirstRune(s))
		if v == nil {
			return nil
		}
		doubled := *v * 2
		return &doubled
	case strings.Contains(s, "/"):
		return numerator(s)
	}
	return nil
}

// ParseHalo converts a disk-diffusion halo diameter in mm. Operator
// prefixes are stripped and the numeric tail returned as-is.
func ParseHalo(raw string) *float64 {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	if s == "" {
		return nil
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "="))
	s = strings.ReplaceAll(s, "<=", "≤")
	s = strings.ReplaceAll(s, ">=", "≥")

	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return &v
	}
	switch {
	case strings.HasPrefix(s, "<"), strings.HasPrefix(s, "≤"),
		strings.HasPrefix(s, ">"), strings.HasPrefix(s, "≥"):
		tail := strings.TrimSpace(trimFirstRune(s))
		if v, err := strconv.ParseFloat(tail, 64); err == nil {
			return &v
		}
	}
	return nil
}

func trimFirstRune(s string) string {
	for i := range s {
		if i > 0 {
			return s[i:]
		}
	}
	return ""
}

// IsMicColumn reports whether a raw column header names a MIC column:
// normalized name ending in "cmi". Spaces, dashes and underscores are
// removed before the suffix test, so the suffix matches with or without a
// separator. The second return is the stripped name without the suffix.
func IsMicColumn(header string) (string, bool) {
	return suffixColumn(header, "cmi")
}

// IsHaloColumn reports whether a header names a halo column ("mm" suffix).
func IsHaloColumn(header string) (string, bool) {
	return suffixColumn(header, "mm")
}

func suffixColumn(header, suffix string) (string, bool) {
	n := Normalize(header)
	n = strings.ReplaceAll(n, "-", "")
	n = strings.ReplaceAll(n, "_", "")
	n = strings.ReplaceAll(n, " ", "")
	if !strings.HasSuffix(n, suffix) {
		return "", false
	}
	return strings.TrimSuffix(n, suffix), true
}

// CleanNumericCell coerces pure numeric strings of a MIC/halo column to a
// canonical form, leaving strings with operator characters for ParseMic and
// ParseHalo. Values already numeric in the sheet pass through unchanged.
func CleanNumericCell(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return s
	}
	if strings.ContainsAny(s, "/><=≥≤") {
		return s
	}
	t := strings.ReplaceAll(s, ",", ".")
	if _, err := strconv.ParseFloat(t, 64); err == nil {
		return t
	}
	return s
}
