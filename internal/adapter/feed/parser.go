package feed

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"jobsyncbot/internal/domain/listing"
	"jobsyncbot/internal/shared"
)

// Column headers of the job board export.
const (
	ColLocation        = "State/Province"
	ColTrade           = "Trade"
	ColWages           = "Wages"
	ColNationalPension = "National Pension"
	ColLocalPension    = "Local Pension"
	ColHealth          = "Health"
	ColOvertime        = "Overtime"
	ColStartDate       = "Job Start Date"
	ColEndDate         = "Job End Date"
	ColNeeded          = "# Needed"
)

var columns = []string{
	ColLocation, ColTrade, ColWages, ColNationalPension, ColLocalPension,
	ColHealth, ColOvertime, ColStartDate, ColEndDate, ColNeeded,
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVParser reads the job board CSV export into a snapshot.
type CSVParser struct{}

// NewCSVParser returns a CSVParser.
func NewCSVParser() *CSVParser { return &CSVParser{} }

// Parse reads the file at path. Any failure is marked as a parse error.
func (p *CSVParser) Parse(path string) (listing.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, shared.MarkKind(err, shared.KindParse)
	}
	defer f.Close()

	snap, err := Decode(f)
	if err != nil {
		return nil, shared.MarkKind(shared.Wrap(err, path), shared.KindParse)
	}
	return snap, nil
}

// Decode reads CSV rows from r. Row numbers in errors count the header as row 1.
func Decode(r io.Reader) (listing.Snapshot, error) {
	br := bufio.NewReader(r)
	if head, _ := br.Peek(len(utf8BOM)); string(head) == string(utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, shared.MarkKind(errors.New("empty file"), shared.KindParse)
	}
	if err != nil {
		return nil, shared.MarkKind(fmt.Errorf("header: %w", err), shared.KindParse)
	}
	idx, err := indexHeader(header)
	if err != nil {
		return nil, err
	}

	var snap listing.Snapshot
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, shared.MarkKind(fmt.Errorf("row %d: %w", row, err), shared.KindParse)
		}
		if blank(rec) {
			continue
		}
		l, err := decodeRow(rec, idx)
		if err != nil {
			return nil, shared.MarkKind(fmt.Errorf("row %d: %w", row, err), shared.KindParse)
		}
		snap = append(snap, l)
	}
	return snap, nil
}

func normalize(h string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, string(utf8BOM))))
}

func indexHeader(header []string) (map[string]int, error) {
	seen := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := seen[normalize(h)]; !dup {
			seen[normalize(h)] = i
		}
	}
	idx := make(map[string]int, len(columns))
	var missing []string
	for _, c := range columns {
		i, ok := seen[normalize(c)]
		if !ok {
			missing = append(missing, c)
			continue
		}
		idx[c] = i
	}
	if len(missing) > 0 {
		return nil, shared.MarkKind(fmt.Errorf("missing column(s): %s", strings.Join(missing, ", ")), shared.KindParse)
	}
	return idx, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func decodeRow(rec []string, idx map[string]int) (listing.Listing, error) {
	get := func(col string) (string, error) {
		i := idx[col]
		if i >= len(rec) {
			return "", fmt.Errorf("missing value for %q", col)
		}
		return strings.TrimSpace(rec[i]), nil
	}

	var l listing.Listing
	for _, f := range []struct {
		col string
		dst *string
	}{
		{ColLocation, &l.Location},
		{ColTrade, &l.Trade},
		{ColWages, &l.Wages},
		{ColNationalPension, &l.NationalPension},
		{ColLocalPension, &l.LocalPension},
		{ColHealth, &l.HealthWelfare},
		{ColOvertime, &l.Hours},
		{ColStartDate, &l.StartDate},
		{ColEndDate, &l.EndDate},
	} {
		v, err := get(f.col)
		if err != nil {
			return listing.Listing{}, err
		}
		*f.dst = v
	}

	raw, err := get(ColNeeded)
	if err != nil {
		return listing.Listing{}, err
	}
	if raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return listing.Listing{}, fmt.Errorf("%q: %q is not a whole number", ColNeeded, raw)
		}
		l.Needed = &n
	}
	return l, nil
}
