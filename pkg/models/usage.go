package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const (
	dateLayout = "2006-01-02"

	// MinutesPerDay is the coverage of a complete day
	MinutesPerDay = 24 * 60

	cubicFeetToCubicMeters = 2.83168
)

// Commodity identifies one of the tracked usage streams
type Commodity string

const (
	Electricity Commodity = "electricity"
	NaturalGas  Commodity = "natural_gas"
)

// UnitOfMeasurement is the unit a usage value is expressed in
type UnitOfMeasurement string

const (
	KilowattHour UnitOfMeasurement = "kWh"
	CubicFeet    UnitOfMeasurement = "CCF"
	CubicMeters  UnitOfMeasurement = "m³"
)

// ParseUnit validates a unit label as found in export files
func ParseUnit(s string) (UnitOfMeasurement, error) {
	switch u := UnitOfMeasurement(s); u {
	case KilowattHour, CubicFeet, CubicMeters:
		return u, nil
	default:
		return "", fmt.Errorf("unknown unit of measurement %q", s)
	}
}

// UnmarshalJSON rejects unknown units
func (u *UnitOfMeasurement) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseUnit(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Date is a calendar date (UTC midnight)
type Date struct {
	time.Time
}

// NewDate creates a calendar date
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD date
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

// String returns the date as YYYY-MM-DD
func (d Date) String() string {
	return d.Format(dateLayout)
}

// MarshalJSON encodes the date as YYYY-MM-DD
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a YYYY-MM-DD date
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("parsing date: %w", err)
	}
	*d = parsed
	return nil
}

// UsageRecord is the consolidated usage of one commodity for one day
type UsageRecord struct {
	Date            Date              `json:"date"`
	MinutesIncluded int               `json:"minutes_included"`
	Value           float64           `json:"value"`
	Unit            UnitOfMeasurement `json:"unit_of_measurement"`
}

// IsCompleteDay reports whether the readings cover the whole day
func (r UsageRecord) IsCompleteDay() bool {
	return r.MinutesIncluded == MinutesPerDay
}

// Merge returns a new record combining r with another reading of the same date.
// The unit of r wins.
func (r UsageRecord) Merge(other UsageRecord) UsageRecord {
	return UsageRecord{
		Date:            r.Date,
		MinutesIncluded: r.MinutesIncluded + other.MinutesIncluded,
		Value:           Round2(r.Value + other.Value),
		Unit:            r.Unit,
	}
}

// ToSI returns the record converted to SI units. Only cubic feet need converting.
func (r UsageRecord) ToSI() UsageRecord {
	if r.Unit != CubicFeet {
		return r
	}
	r.Unit = CubicMeters
	r.Value = Round2(r.Value * cubicFeetToCubicMeters)
	return r
}

// Round2 rounds to two decimal places. Exact ties go to the even digit.
func Round2(v float64) float64 {
	r, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 2, 64), 64)
	return r
}

// LatestCompleteDay returns the most recent complete-day record of a date-ordered sequence
func LatestCompleteDay(records []UsageRecord) (UsageRecord, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].IsCompleteDay() {
			return records[i], true
		}
	}
	return UsageRecord{}, false
}

// EnergyUsage is one snapshot of both commodity sequences.
// Snapshots are treated as immutable once built.
type EnergyUsage struct {
	UpdateTimestamp time.Time     `json:"update_timestamp"`
	Electricity     []UsageRecord `json:"electricity"`
	NaturalGas      []UsageRecord `json:"natural_gas"`
}

// Records returns the sequence for a commodity
func (u EnergyUsage) Records(c Commodity) []UsageRecord {
	switch c {
	case Electricity:
		return u.Electricity
	case NaturalGas:
		return u.NaturalGas
	default:
		return nil
	}
}
