package scraper

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jgoulah/pseusage/pkg/models"
)

// Column titles of the usage export
const (
	columnType      = "TYPE"
	columnDate      = "DATE"
	columnStartTime = "START TIME"
	columnEndTime   = "END TIME"
	columnUsage     = "USAGE"
	columnUnits     = "UNITS"
)

// Row filters used by the export for each commodity
const (
	ElectricUsageFilter   = "Electric usage"
	NaturalGasUsageFilter = "Natural gas usage"
)

// ErrMissingColumn is returned when the title line lacks a required column
var ErrMissingColumn = errors.New("missing required column")

// parserState is the section of the file the parser is in
type parserState int

const (
	stateHeader parserState = iota // account preamble, ends at the first blank line
	stateTitle                     // column titles
	stateData                      // usage rows
)

func (s parserState) String() string {
	switch s {
	case stateHeader:
		return "header"
	case stateTitle:
		return "title"
	case stateData:
		return "data"
	default:
		return fmt.Sprintf("parserState(%d)", int(s))
	}
}

// RowErrorKind classifies why a data row was rejected
type RowErrorKind int

const (
	RowMalformed RowErrorKind = iota + 1
	RowTooShort
	RowBadDate
	RowBadTime
	RowBadUsage
	RowBadUnit
)

func (k RowErrorKind) String() string {
	switch k {
	case RowMalformed:
		return "malformed"
	case RowTooShort:
		return "too_short"
	case RowBadDate:
		return "bad_date"
	case RowBadTime:
		return "bad_time"
	case RowBadUsage:
		return "bad_usage"
	case RowBadUnit:
		return "bad_unit"
	default:
		return fmt.Sprintf("RowErrorKind(%d)", int(k))
	}
}

// RowError describes a data row that was skipped
type RowError struct {
	Line int
	Kind RowErrorKind
	Text string
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d (%s): %v", e.Line, e.Kind, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// ParseResult is the outcome of parsing one export file
type ParseResult struct {
	// Records holds one record per distinct date, ordered by date
	Records []models.UsageRecord
	// RowErrors lists rows that were skipped
	RowErrors []*RowError
}

// columns holds positions discovered from the title line
type columns struct {
	typ, date, usage, units int
	start, end              int
	hasTimes                bool
	width                   int // minimum number of fields a data row needs
}

type parser struct {
	state       parserState
	filter      string
	defaultUnit models.UnitOfMeasurement
	cols        columns
	line        int
	records     map[models.Date]models.UsageRecord
	rowErrors   []*RowError
}

func newParser(filter string, defaultUnit models.UnitOfMeasurement) *parser {
	return &parser{
		state:       stateHeader,
		filter:      filter,
		defaultUnit: defaultUnit,
		records:     make(map[models.Date]models.UsageRecord),
	}
}

// ParseUsage reads one export file and consolidates the rows matching filter per date.
// Bad rows are reported in the result; only an unusable title line is an error.
func ParseUsage(r io.Reader, filter string, defaultUnit models.UnitOfMeasurement) (ParseResult, error) {
	p := newParser(filter, defaultUnit)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := p.feed(scanner.Text()); err != nil {
			return ParseResult{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		return ParseResult{}, fmt.Errorf("reading usage file: %w", err)
	}

	return p.result(), nil
}

// feed advances the state machine by one line
func (p *parser) feed(line string) error {
	p.line++
	line = strings.TrimRight(line, "\r")
	if p.line == 1 {
		line = strings.TrimPrefix(line, "\ufeff")
	}

	switch p.state {
	case stateHeader:
		if strings.TrimSpace(line) == "" {
			p.state = stateTitle
		}
		return nil

	case stateTitle:
		if strings.TrimSpace(line) == "" {
			return nil
		}
		fields, err := splitFields(line)
		if err != nil {
			return fmt.Errorf("line %d: reading title: %w", p.line, err)
		}
		cols, err := discoverColumns(fields)
		if err != nil {
			return fmt.Errorf("line %d: %w", p.line, err)
		}
		p.cols = cols
		p.state = stateData
		return nil

	default:
		if strings.TrimSpace(line) == "" {
			return nil
		}
		record, ok, rowErr := p.parseRow(line)
		if rowErr != nil {
			p.rowErrors = append(p.rowErrors, rowErr)
			return nil
		}
		if !ok {
			return nil
		}
		if existing, found := p.records[record.Date]; found {
			record = existing.Merge(record)
		}
		p.records[record.Date] = record
		return nil
	}
}

// parseRow converts a data line. ok is false for rows of another commodity.
func (p *parser) parseRow(line string) (models.UsageRecord, bool, *RowError) {
	fail := func(kind RowErrorKind, err error) (models.UsageRecord, bool, *RowError) {
		return models.UsageRecord{}, false, &RowError{Line: p.line, Kind: kind, Text: line, Err: err}
	}

	fields, err := splitFields(line)
	if err != nil {
		return fail(RowMalformed, err)
	}
	if len(fields) < p.cols.width {
		return fail(RowTooShort, fmt.Errorf("expected at least %d fields, got %d", p.cols.width, len(fields)))
	}

	if strings.TrimSpace(fields[p.cols.typ]) != p.filter {
		return models.UsageRecord{}, false, nil
	}

	date, err := models.ParseDate(strings.TrimSpace(fields[p.cols.date]))
	if err != nil {
		return fail(RowBadDate, err)
	}

	usage, err := strconv.ParseFloat(strings.TrimSpace(fields[p.cols.usage]), 64)
	if err != nil {
		return fail(RowBadUsage, err)
	}

	minutes := models.MinutesPerDay
	if p.cols.hasTimes {
		start, err := parseClock(fields[p.cols.start])
		if err != nil {
			return fail(RowBadTime, err)
		}
		end, err := parseClock(fields[p.cols.end])
		if err != nil {
			return fail(RowBadTime, err)
		}
		minutes = intervalMinutes(start, end)
	}

	unit := p.defaultUnit
	if raw := strings.TrimSpace(fields[p.cols.units]); raw != "" {
		unit, err = models.ParseUnit(raw)
		if err != nil {
			return fail(RowBadUnit, err)
		}
	}

	return models.UsageRecord{
		Date:            date,
		MinutesIncluded: minutes,
		Value:           models.Round2(usage),
		Unit:            unit,
	}, true, nil
}

func (p *parser) result() ParseResult {
	records := make([]models.UsageRecord, 0, len(p.records))
	for _, r := range p.records {
		records = append(records, r)
	}
	sortByDate(records)
	return ParseResult{Records: records, RowErrors: p.rowErrors}
}

func discoverColumns(titles []string) (columns, error) {
	index := make(map[string]int, len(titles))
	for i, t := range titles {
		name := strings.TrimSpace(t)
		if _, seen := index[name]; !seen {
			index[name] = i
		}
	}

	cols := columns{start: -1, end: -1}
	required := []struct {
		name string
		dst  *int
	}{
		{columnType, &cols.typ},
		{columnDate, &cols.date},
		{columnUsage, &cols.usage},
		{columnUnits, &cols.units},
	}
	for _, r := range required {
		i, ok := index[r.name]
		if !ok {
			return columns{}, fmt.Errorf("%w %q in %v", ErrMissingColumn, r.name, titles)
		}
		*r.dst = i
	}

	start, hasStart := index[columnStartTime]
	end, hasEnd := index[columnEndTime]
	if hasStart && hasEnd {
		cols.start, cols.end, cols.hasTimes = start, end, true
	}

	for _, i := range []int{cols.typ, cols.date, cols.usage, cols.units, cols.start, cols.end} {
		if i+1 > cols.width {
			cols.width = i + 1
		}
	}
	return cols, nil
}

// intervalMinutes returns the minutes an interval row is counted for. The hour
// difference is scaled by 24, not 60, so only rows within a single hour are exact.
func intervalMinutes(start, end time.Time) int {
	return (end.Hour()-start.Hour())*24 + end.Minute() - start.Minute() + 1
}

func parseClock(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time of day %q", s)
}

// splitFields splits one delimited line, honoring quoted fields
func splitFields(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	fields, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	return fields, err
}

func sortByDate(records []models.UsageRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Date.Before(records[j].Date.Time)
	})
}
