package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// ParseWarning is a non-fatal issue found while decoding a CSV file.
type ParseWarning struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// headerAliases maps common CSV header spellings to canonical payload
// field names. Matching is case-insensitive after trimming.
var headerAliases = map[string]string{
	"name":          "name",
	"full name":     "name",
	"student name":  "name",
	"email":         "email",
	"e-mail":        "email",
	"email address": "email",
	"gender":        "gender",
	"sex":           "gender",
	"phone":         "phone",
	"phone number":  "phone",
	"mobile":        "phone",
	"dob":           "dob",
	"date of birth": "dob",
	"birth date":    "dob",
	"birthdate":     "dob",
	"address":       "address",
}

// DecodeCSV parses CSV bytes into ordered per-row field maps. The
// input may be UTF-8 (with or without BOM), UTF-16 with BOM, or
// Windows-1252; everything is converted to UTF-8 first. Rows with
// mismatched column counts are padded or truncated with a warning
// rather than dropped, so the row keeps its 1-based index and can
// still fail validation visibly downstream.
func DecodeCSV(data []byte) ([]map[string]string, []ParseWarning, error) {
	decoded, err := toUTF8(data)
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: decode csv: %w", err)
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("ingest: empty file: no header row")
		}
		return nil, nil, fmt.Errorf("ingest: read header row: %w", err)
	}
	fields := make([]string, len(headers))
	for i, h := range headers {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if canonical, ok := headerAliases[key]; ok {
			fields[i] = canonical
		}
		// Unknown columns keep fields[i] == "" and are skipped per row.
	}

	var rows []map[string]string
	var warnings []ParseWarning
	rowNum := 0
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNum++
		if err != nil {
			warnings = append(warnings, ParseWarning{Row: rowNum, Message: fmt.Sprintf("parse error: %v", err)})
			rows = append(rows, map[string]string{})
			continue
		}
		if len(row) < len(fields) {
			warnings = append(warnings, ParseWarning{Row: rowNum, Message: fmt.Sprintf("row has %d columns, expected %d", len(row), len(fields))})
			padded := make([]string, len(fields))
			copy(padded, row)
			row = padded
		} else if len(row) > len(fields) {
			warnings = append(warnings, ParseWarning{Row: rowNum, Message: fmt.Sprintf("row has %d columns, expected %d; extra columns ignored", len(row), len(fields))})
			row = row[:len(fields)]
		}
		record := make(map[string]string, len(fields))
		for i, field := range fields {
			if field == "" {
				continue
			}
			record[field] = strings.TrimSpace(row[i])
		}
		rows = append(rows, record)
	}
	if len(rows) == 0 {
		return nil, warnings, errors.New("ingest: file contains no data rows")
	}
	return rows, warnings, nil
}

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// toUTF8 strips BOMs and converts UTF-16 or Windows-1252 input to UTF-8.
func toUTF8(data []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return data[3:], nil
	case bytes.HasPrefix(data, bomUTF16LE):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
		return dec.Bytes(data[2:])
	case bytes.HasPrefix(data, bomUTF16BE):
		dec := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
		return dec.Bytes(data[2:])
	case utf8.Valid(data):
		return data, nil
	default:
		// Legacy spreadsheet exports are overwhelmingly Windows-1252.
		return charmap.Windows1252.NewDecoder().Bytes(data)
	}
}
