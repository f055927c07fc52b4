package store

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

var postedLayouts = []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"}

// ParseAdvisoryTable reads a markdown table with the columns
// | title | posted | content |. Rows that cannot be parsed are skipped and
// reported in the returned error alongside the rows that could.
func ParseAdvisoryTable(r io.Reader) ([]Advisory, error) {
	var (
		advisories []Advisory
		skipped    *multierror.Error
	)
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "|") || !strings.HasSuffix(line, "|") {
			skipped = multierror.Append(skipped, fmt.Errorf("line %d: not a table row", lineNo))
			continue
		}
		cells := splitRow(line)
		if isSeparator(cells) || isHeader(cells) {
			continue
		}
		if len(cells) != 3 {
			skipped = multierror.Append(skipped, fmt.Errorf("line %d: expected 3 cells, got %d", lineNo, len(cells)))
			continue
		}
		title, posted, content := cells[0], cells[1], cells[2]
		if title == "" || content == "" {
			skipped = multierror.Append(skipped, fmt.Errorf("line %d: title and content are required", lineNo))
			continue
		}
		postedAt, err := parsePosted(posted)
		if err != nil {
			skipped = multierror.Append(skipped, fmt.Errorf("line %d: %w", lineNo, err))
			continue
		}
		advisories = append(advisories, Advisory{Title: title, Content: content, PostedAt: postedAt})
	}
	if err := sc.Err(); err != nil {
		return advisories, fmt.Errorf("failed to read advisory table: %w", err)
	}
	return advisories, skipped.ErrorOrNil()
}

func splitRow(line string) []string {
	parts := strings.Split(strings.Trim(line, "|"), "|")
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = strings.TrimSpace(p)
	}
	return cells
}

func isSeparator(cells []string) bool {
	for _, c := range cells {
		if strings.Trim(c, "-: ") != "" {
			return false
		}
	}
	return true
}

func isHeader(cells []string) bool {
	return len(cells) > 0 && strings.EqualFold(cells[0], "title")
}

func parsePosted(s string) (time.Time, error) {
	for _, layout := range postedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised posted date %q", s)
}

// IngestAdvisoriesFromFile replaces the advisories with the rows of a
// markdown table file. Bad rows are logged and skipped; a file without a
// single usable row leaves the current advisories untouched.
func (s *SQLiteStore) IngestAdvisoriesFromFile(ctx context.Context, filePath string) (int, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read data file %s: %w", filePath, err)
	}
	defer f.Close()

	advisories, err := ParseAdvisoryTable(f)
	if merr, ok := err.(*multierror.Error); ok {
		for _, e := range merr.Errors {
			s.log.Warn("Skipping advisory row", zap.Error(e))
		}
	} else if err != nil {
		return 0, err
	}
	if len(advisories) == 0 {
		return 0, fmt.Errorf("no advisories found in %s", filePath)
	}

	n, err := s.ReplaceAdvisories(ctx, advisories)
	if err != nil {
		return 0, err
	}
	s.log.Info("Ingested advisories", zap.Int("count", n), zap.String("file", filePath))
	return n, nil
}
