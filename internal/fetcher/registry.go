package fetcher

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"bankrupt_bot/internal/model"
)

// Parsed is the result of reading a registry CSV.
type Parsed struct {
	Records   []model.RegistryRecord
	Skipped   int
	Delimiter rune
}

// DecodeCSV converts a downloaded file to UTF-8. A byte order mark selects the
// encoding and is dropped. Files that are not valid UTF-8 are read as
// Windows-1251, which older registry exports use.
func DecodeCSV(body []byte) (string, string, error) {
	charset := "utf-8"
	fallback := unicode.UTF8.NewDecoder()
	if !utf8.Valid(body) && !hasUTF16BOM(body) {
		charset = "windows-1251"
		fallback = charmap.Windows1251.NewDecoder()
	}
	out, _, err := transform.Bytes(unicode.BOMOverride(fallback), body)
	if err != nil {
		return "", "", fmt.Errorf("decode %s: %w", charset, err)
	}
	return string(out), charset, nil
}

func hasUTF16BOM(b []byte) bool {
	return len(b) >= 2 && ((b[0] == 0xFF && b[1] == 0xFE) || (b[0] == 0xFE && b[1] == 0xFF))
}

// SniffDelimiter picks the most frequent of ';', ',' and tab in the header
// line, ignoring quoted text. Ties and headers without any default to ','.
func SniffDelimiter(header string) rune {
	counts := map[rune]int{}
	inQuotes := false
	for _, r := range header {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case inQuotes:
		case r == ';' || r == ',' || r == '\t':
			counts[r]++
		}
	}
	best := ','
	for _, r := range []rune{';', '\t'} {
		if counts[r] > counts[best] {
			best = r
		}
	}
	return best
}

type columns struct {
	id, name, date int
}

var columnKeywords = struct {
	id, name, date []string
}{
	id:   []string{"edrpou", "код"},
	name: []string{"name", "назв"},
	date: []string{"date", "дат"},
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(h), "\"\ufeff"))
}

// detectColumns prefers the canonical firm_edrpou, firm_name and date
// columns and falls back to the first header containing a keyword.
func detectColumns(header []string) (columns, error) {
	norm := make([]string, len(header))
	for i, h := range header {
		norm[i] = normalizeHeader(h)
	}

	taken := map[int]bool{}
	guess := func(keywords []string) int {
		for i, h := range norm {
			if taken[i] {
				continue
			}
			for _, kw := range keywords {
				if strings.Contains(h, kw) {
					taken[i] = true
					return i
				}
			}
		}
		return -1
	}

	// Exact matches are claimed first so a keyword guess for one column
	// cannot steal the canonical header of another.
	cols := columns{id: -1, name: -1, date: -1}
	for i, h := range norm {
		switch h {
		case "firm_edrpou":
			cols.id = i
		case "firm_name":
			cols.name = i
		case "date":
			cols.date = i
		default:
			continue
		}
		taken[i] = true
	}
	if cols.id < 0 {
		cols.id = guess(columnKeywords.id)
	}
	if cols.name < 0 {
		cols.name = guess(columnKeywords.name)
	}
	if cols.date < 0 {
		cols.date = guess(columnKeywords.date)
	}

	var missing []string
	if cols.id < 0 {
		missing = append(missing, "identifier")
	}
	if cols.name < 0 {
		missing = append(missing, "name")
	}
	if cols.date < 0 {
		missing = append(missing, "date")
	}
	if len(missing) > 0 {
		return cols, fmt.Errorf("registry header %q: no %s column", header, strings.Join(missing, ", "))
	}
	return cols, nil
}

// ParseRegistry reads a UTF-8 registry CSV. Rows without an identifier or too
// short to hold the detected columns are skipped and counted. Dates are kept
// as published; they are validated when matching.
func ParseRegistry(r io.Reader) (*Parsed, error) {
	br := bufio.NewReader(r)
	first, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	line, _, _ := strings.Cut(string(first), "\n")
	if strings.TrimSpace(line) == "" {
		return nil, fmt.Errorf("registry CSV is empty")
	}

	delim := SniffDelimiter(line)
	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = delim != '\t'

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read registry header: %w", err)
	}
	cols, err := detectColumns(header)
	if err != nil {
		return nil, err
	}
	width := max(cols.id, cols.name, cols.date) + 1

	out := &Parsed{Delimiter: delim}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			out.Skipped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read registry row: %w", err)
		}
		if len(row) < width {
			out.Skipped++
			continue
		}
		id := strings.TrimSpace(row[cols.id])
		if id == "" {
			out.Skipped++
			continue
		}
		out.Records = append(out.Records, model.RegistryRecord{
			Identifier:  id,
			DisplayName: strings.TrimSpace(row[cols.name]),
			EventDate:   strings.TrimSpace(row[cols.date]),
		})
	}
	return out, nil
}
