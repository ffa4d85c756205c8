package cleaner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mytaifex/taifex-pipeline/internal/domain"
)

// GenericTrim trims whitespace from every cell and drops rows that end up
// entirely empty.
func GenericTrim(table domain.Table) (domain.Table, error) {
	out := table.Clone()
	var kept [][]string
	for _, row := range out.Rows {
		empty := true
		for i, cell := range row {
			row[i] = strings.TrimSpace(cell)
			if row[i] != "" {
				empty = false
			}
		}
		if !empty {
			kept = append(kept, row)
		}
	}
	out.Rows = kept
	return out, nil
}

// TaifexDailyQuotes cleans the daily futures/options quote files: trims cells,
// strips thousands separators from numeric fields, converts ROC-calendar
// dates to ISO, and blanks the exchange's "-" placeholder cells.
func TaifexDailyQuotes(table domain.Table) (domain.Table, error) {
	out, err := GenericTrim(table)
	if err != nil {
		return domain.Table{}, err
	}

	dateIdx := out.ColumnIndex("trade_date")
	for rowNum, row := range out.Rows {
		for i, cell := range row {
			if cell == "-" {
				row[i] = ""
				continue
			}
			row[i] = stripThousands(cell)
		}
		if dateIdx >= 0 && dateIdx < len(row) && row[dateIdx] != "" {
			normalized, err := normalizeDate(row[dateIdx])
			if err != nil {
				return domain.Table{}, fmt.Errorf("row %d: %w", rowNum+1, err)
			}
			row[dateIdx] = normalized
		}
	}
	return out, nil
}

// TaifexInstitutional cleans the three-major-institutional-investors files:
// the numeric treatment of TaifexDailyQuotes plus buy/sell side normalization.
func TaifexInstitutional(table domain.Table) (domain.Table, error) {
	out, err := TaifexDailyQuotes(table)
	if err != nil {
		return domain.Table{}, err
	}

	sideIdx := out.ColumnIndex("side")
	if sideIdx < 0 {
		return out, nil
	}
	for rowNum, row := range out.Rows {
		if sideIdx >= len(row) {
			continue
		}
		switch strings.ToLower(row[sideIdx]) {
		case "b", "buy", "買方":
			row[sideIdx] = "buy"
		case "s", "sell", "賣方":
			row[sideIdx] = "sell"
		case "":
		default:
			return domain.Table{}, fmt.Errorf("row %d: unrecognized side %q", rowNum+1, row[sideIdx])
		}
	}
	return out, nil
}

// stripThousands removes comma separators from values that are numeric once
// the commas are gone; non-numeric values pass through untouched.
func stripThousands(value string) string {
	if !strings.Contains(value, ",") {
		return value
	}
	stripped := strings.ReplaceAll(value, ",", "")
	if _, err := strconv.ParseFloat(stripped, 64); err == nil {
		return stripped
	}
	return value
}

// normalizeDate accepts ROC-calendar dates ("112/01/03") and slash-separated
// western dates ("2023/01/03"), returning ISO "2023-01-03". Already-ISO
// values pass through.
func normalizeDate(value string) (string, error) {
	if strings.Count(value, "-") == 2 {
		return value, nil
	}
	parts := strings.Split(value, "/")
	if len(parts) != 3 {
		return "", fmt.Errorf("unrecognized date %q", value)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return "", fmt.Errorf("unrecognized date %q", value)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", fmt.Errorf("unrecognized date %q", value)
	}
	day, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", fmt.Errorf("unrecognized date %q", value)
	}
	// ROC calendar years are offset by 1911.
	if year < 1000 {
		year += 1911
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return "", fmt.Errorf("date %q out of range", value)
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), nil
}
