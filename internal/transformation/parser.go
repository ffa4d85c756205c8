package transformation

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mytaifex/taifex-pipeline/internal/domain"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

// ErrUnsupportedFormat is returned when a recipe names a parser format the
// pipeline does not implement.
var ErrUnsupportedFormat = errors.New("unsupported parser format")

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// parseTable turns raw file bytes into a Table according to the recipe's
// parser config: decode, skip leading rows, locate the header, normalize
// column names, and pad/trim data rows to the header width.
func parseTable(content []byte, cfg domain.ParserConfig) (domain.Table, error) {
	switch cfg.Format {
	case "", "csv":
		return parseCSV(content, cfg)
	case "xlsx":
		return parseXLSX(content, cfg)
	default:
		return domain.Table{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, cfg.Format)
	}
}

func parseCSV(content []byte, cfg domain.ParserConfig) (domain.Table, error) {
	decoded, err := decodeContent(content, cfg.Encoding)
	if err != nil {
		return domain.Table{}, err
	}

	reader := bufio.NewReader(bytes.NewReader(decoded))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1
	csvReader.LazyQuotes = true
	if cfg.Delimiter != "" {
		runes := []rune(cfg.Delimiter)
		if len(runes) != 1 {
			return domain.Table{}, fmt.Errorf("delimiter %q must be a single character", cfg.Delimiter)
		}
		csvReader.Comma = runes[0]
	}

	records, err := csvReader.ReadAll()
	if err != nil {
		return domain.Table{}, fmt.Errorf("failed to read csv: %w", err)
	}
	return normalizeRecords(records, cfg)
}

func parseXLSX(content []byte, cfg domain.ParserConfig) (domain.Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return domain.Table{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return domain.Table{}, errors.New("xlsx file has no sheets")
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return domain.Table{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeRecords(records, cfg)
}

func normalizeRecords(records [][]string, cfg domain.ParserConfig) (domain.Table, error) {
	if cfg.SkipRows > 0 {
		if cfg.SkipRows >= len(records) {
			return domain.Table{}, fmt.Errorf("skip_rows %d leaves no content", cfg.SkipRows)
		}
		records = records[cfg.SkipRows:]
	}

	var headerRow []string
	var dataRows [][]string

	if cfg.HeaderRow != nil {
		idx := *cfg.HeaderRow
		if idx < 0 || idx >= len(records) {
			return domain.Table{}, fmt.Errorf("header_row %d out of range", idx)
		}
		headerRow = records[idx]
		for _, row := range records[idx+1:] {
			if !rowEmpty(row) {
				dataRows = append(dataRows, row)
			}
		}
	} else {
		for _, row := range records {
			if rowEmpty(row) {
				continue
			}
			if headerRow == nil {
				headerRow = row
				continue
			}
			dataRows = append(dataRows, row)
		}
	}

	if rowEmpty(headerRow) {
		return domain.Table{}, errors.New("no header row detected")
	}

	columns := make([]string, len(headerRow))
	for i, name := range headerRow {
		columns[i] = domain.NormalizeColumn(name)
	}

	for i := range dataRows {
		dataRows[i] = padRow(dataRows[i], len(columns))
	}

	return domain.Table{Columns: columns, Rows: dataRows}, nil
}

func decodeContent(content []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(encoding) {
	case "", "utf-8", "utf8":
		return content, nil
	case "big5", "ms950":
		decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(content), traditionalchinese.Big5.NewDecoder()))
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s content: %w", encoding, err)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
