// Package fingerprint derives a deterministic format identity from a file's
// header row. Two files with the same logical header (regardless of field
// order, case or whitespace) always share a fingerprint, which is the basis
// for format-agnostic dispatch in the transformation pipeline.
package fingerprint

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strconv"
	"strings"
)

// ErrNoHeader is returned when no usable header row exists in the scanned region.
var ErrNoHeader = errors.New("no header row found")

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// Config controls how the header row is located inside raw content.
type Config struct {
	// MaxHeaderLines bounds the scan region at the top of the file.
	MaxHeaderLines int
	// Delimiter separates header fields, default ",".
	Delimiter string
	// HeaderRow pins an explicit zero-based row index, overriding the
	// heuristic. Recipes for files with leading metadata rows set this.
	HeaderRow *int
}

// DefaultConfig scans the first 20 lines for a comma-delimited header.
func DefaultConfig() Config {
	return Config{MaxHeaderLines: 20, Delimiter: ","}
}

func (c Config) withDefaults() Config {
	if c.MaxHeaderLines <= 0 {
		c.MaxHeaderLines = 20
	}
	if c.Delimiter == "" {
		c.Delimiter = ","
	}
	return c
}

// Compute normalizes header field names and hashes them: trim, lower-case,
// sort lexicographically, join with "|", SHA-256 hex.
func Compute(fields []string) string {
	normalized := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.ToLower(strings.TrimSpace(field))
		if field == "" {
			continue
		}
		normalized = append(normalized, field)
	}
	sort.Strings(normalized)
	sum := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(sum[:])
}

// FromContent locates the header row in the leading region of the content and
// returns its fingerprint. Callers ingesting archives must pass inner file
// content, never the container bytes.
func FromContent(content []byte, cfg Config) (string, error) {
	fields, err := HeaderFields(content, cfg)
	if err != nil {
		return "", err
	}
	return Compute(fields), nil
}

// HeaderFields returns the raw field names of the detected header row.
func HeaderFields(content []byte, cfg Config) ([]string, error) {
	cfg = cfg.withDefaults()
	lines := leadingLines(content, cfg.MaxHeaderLines)
	if len(lines) == 0 {
		return nil, ErrNoHeader
	}

	if cfg.HeaderRow != nil {
		idx := *cfg.HeaderRow
		if idx < 0 || idx >= len(lines) {
			return nil, ErrNoHeader
		}
		fields := splitFields(lines[idx], cfg.Delimiter)
		if len(fields) == 0 {
			return nil, ErrNoHeader
		}
		return fields, nil
	}

	// Heuristic: the header is the first line that both carries the most
	// delimiter-separated fields seen so far and is not dominated by numeric
	// cells. Exchange files often lead with title/date metadata rows, which
	// have fewer fields or numeric content.
	bestScore := 0
	var best []string
	for _, line := range lines {
		fields := splitFields(line, cfg.Delimiter)
		if len(fields) <= bestScore {
			continue
		}
		if mostlyNumeric(fields) {
			continue
		}
		bestScore = len(fields)
		best = fields
	}
	if best == nil {
		return nil, ErrNoHeader
	}
	return best, nil
}

func leadingLines(content []byte, max int) []string {
	content = bytes.TrimPrefix(content, byteOrderMark)
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() && len(lines) < max {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func splitFields(line, delimiter string) []string {
	var fields []string
	for _, field := range strings.Split(line, delimiter) {
		if strings.TrimSpace(field) != "" {
			fields = append(fields, field)
		}
	}
	return fields
}

func mostlyNumeric(fields []string) bool {
	if len(fields) == 0 {
		return true
	}
	numeric := 0
	for _, field := range fields {
		value := strings.ReplaceAll(strings.TrimSpace(field), ",", "")
		if _, err := strconv.ParseFloat(value, 64); err == nil {
			numeric++
		}
	}
	return numeric*2 > len(fields)
}
