package docext

import (
	"fmt"
	"strings"
)

// extractCSV parses CSV bytes and renders them as readable text.
// With two or more data rows the first row is treated as a header row and
// every later row becomes a "Header: value" block; a lone row is rendered
// as a flat "Row 1: v1, v2, …" line.
func extractCSV(data []byte) (string, error) {
	rows := parseCSVRows(string(data))
	if len(rows) == 0 {
		return "", fmt.Errorf("%w: no data found", ErrEmptyDocument)
	}
	return formatCSVRows(rows), nil
}

// parseCSVRows splits input into lines and parses each non-blank line.
// Rows that parse to zero fields are dropped.
func parseCSVRows(input string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := parseCSVLine(line)
		if len(fields) > 0 {
			rows = append(rows, fields)
		}
	}
	return rows
}

// parseCSVLine tokenizes one line character by character. A double quote
// toggles in-quotes mode; a doubled quote inside quotes is a literal quote;
// a comma splits fields only outside quotes. Trailing empty fields are
// dropped so that "a,b,," yields two fields.
func parseCSVLine(line string) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '"':
			if inQuotes && i+1 < len(line) && line[i+1] == '"' {
				cur.WriteByte('"')
				i++
			} else {
				inQuotes = !inQuotes
			}
		case ch == ',' && !inQuotes:
			fields = append(fields, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(ch)
		}
	}
	fields = append(fields, strings.TrimSpace(cur.String()))

	for len(fields) > 0 && fields[len(fields)-1] == "" {
		fields = fields[:len(fields)-1]
	}
	return fields
}

// formatCSVRows renders parsed rows as text.
func formatCSVRows(rows [][]string) string {
	var sb strings.Builder

	if len(rows) >= 2 {
		headers := rows[0]
		for i, row := range rows[1:] {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			for j, h := range headers {
				if j > 0 {
					sb.WriteByte('\n')
				}
				sb.WriteString(h)
				sb.WriteString(": ")
				if j < len(row) {
					sb.WriteString(row[j])
				}
			}
		}
		return sb.String()
	}

	for i, row := range rows {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "Row %d: %s", i+1, strings.Join(row, ", "))
	}
	return sb.String()
}
