// Package ingest implements the file-ingestion pipeline: spreadsheet
// reading, demographic resolution, antibiogram extraction, intrinsic and
// acquired resistance application, duplicate rejection and persistence.
package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"github.com/sensibyte/SensiByte/internal/parse"
)

// Sheet is one row-oriented table read from a workbook sheet or a CSV file.
type Sheet struct {
	File    string
	Name    string
	Headers []string
	Rows    []map[string]string
}

// ReadFiles consolidates XLSX workbooks (every sheet) and CSV files into
// sheets. CSV bytes are decoded as latin-1; the delimiter and quote are
// sniffed from the first few KB.
func ReadFiles(paths []string) ([]Sheet, error) {
	var sheets []Sheet
	for _, path := range paths {
		ext := strings.ToLower(filepath.Ext(path))
		switch ext {
		case ".xlsx", ".xls":
			ss, err := readWorkbook(path)
			if err != nil {
				return nil, fmt.Errorf("reading workbook %s: %w", path, err)
			}
			sheets = append(sheets, ss...)
		case ".csv":
			s, err := readCSV(path)
			if err != nil {
				return nil, fmt.Errorf("reading csv %s: %w", path, err)
			}
			sheets = append(sheets, s)
		default:
			return nil, fmt.Errorf("unsupported file type %q", ext)
		}
	}
	for i := range sheets {
		cleanNumericColumns(&sheets[i])
	}
	return sheets, nil
}

func readWorkbook(path string) ([]Sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sheets []Sheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", name, err)
		}
		if len(rows) == 0 {
			continue
		}
		s := Sheet{File: filepath.Base(path), Name: name, Headers: rows[0]}
		for _, raw := range rows[1:] {
			s.Rows = append(s.Rows, zipRow(s.Headers, raw))
		}
		sheets = append(sheets, s)
	}
	return sheets, nil
}

func readCSV(path string) (Sheet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Sheet{}, err
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return Sheet{}, fmt.Errorf("decoding latin-1: %w", err)
	}

	r := csv.NewReader(bytes.NewReader(decoded))
	r.Comma = sniffDelimiter(decoded)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var headers []string
	s := Sheet{File: filepath.Base(path), Name: filepath.Base(path)}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Sheet{}, err
		}
		if headers == nil {
			headers = rec
			s.Headers = headers
			continue
		}
		s.Rows = append(s.Rows, zipRow(headers, rec))
	}
	return s, nil
}

// sniffDelimiter picks the separator that dominates the first 4KB outside
// quoted regions, among comma, semicolon and tab.
func sniffDelimiter(data []byte) rune {
	sample := data
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	counts := map[rune]int{',': 0, ';': 0, '\t': 0}
	inQuotes := false
	for _, b := range sample {
		switch b {
		case '"':
			inQuotes = !inQuotes
		case ',', ';', '\t':
			if !inQuotes {
				counts[rune(b)]++
			}
		}
	}
	best, bestCount := ',', counts[',']
	for _, cand := range []rune{';', '\t'} {
		if counts[cand] > bestCount {
			best, bestCount = cand, counts[cand]
		}
	}
	return best
}

func zipRow(headers, cells []string) map[string]string {
	row := make(map[string]string, len(headers))
	for i, h := range headers {
		if h == "" {
			continue
		}
		if i < len(cells) {
			row[h] = strings.TrimSpace(cells[i])
		} else {
			row[h] = ""
		}
	}
	return row
}

// cleanNumericColumns coerces cells of MIC and halo columns to canonical
// numeric strings, leaving operator-bearing values for the MIC/halo
// parsers downstream.
func cleanNumericColumns(s *Sheet) {
	numeric := map[string]bool{}
	for _, h := range s.Headers {
		if _, ok := parse.IsMicColumn(h); ok {
			numeric[h] = true
		} else if _, ok := parse.IsHaloColumn(h); ok {
			numeric[h] = true
		}
	}
	if len(numeric) == 0 {
		return
	}
	for _, row := range s.Rows {
		for h := range numeric {
			if v, ok := row[h]; ok {
				row[h] = parse.CleanNumericCell(v)
			}
		}
	}
}
