package sievemanager

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/grufocom/postsible/consts"
)

// DefaultMaxVacationDays matches the delivery agent's autoresponder limit.
const DefaultMaxVacationDays = 30

// Vacation is the record persisted in vacation.json. Dates are kept exactly
// as the caller supplied them.
type Vacation struct {
	Subject   string `json:"subject"`
	Message   string `json:"message"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Enabled   bool   `json:"enabled"`
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
}

// ParseDate accepts a calendar date, a date with minutes or seconds, or an
// RFC 3339 timestamp. Values without a zone are read in loc. A bare date is
// midnight at the start of that day.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", value)
}

// Rule resolves the stored dates in loc.
func (v *Vacation) Rule(loc *time.Location) (*VacationRule, error) {
	start, err := ParseDate(v.StartDate, loc)
	if err != nil {
		return nil, fmt.Errorf("start_date: %w", err)
	}
	end, err := ParseDate(v.EndDate, loc)
	if err != nil {
		return nil, fmt.Errorf("end_date: %w", err)
	}
	return &VacationRule{Subject: v.Subject, Message: v.Message, Start: start, End: end}, nil
}

// NewVacation validates a vacation window and returns the record to store.
// maxDays <= 0 means DefaultMaxVacationDays.
func NewVacation(subject, message, startDate, endDate string, loc *time.Location, maxDays int) (*Vacation, error) {
	if maxDays <= 0 {
		maxDays = DefaultMaxVacationDays
	}

	start, err := ParseDate(startDate, loc)
	if err != nil {
		return nil, &consts.ValidationError{Field: "start_date", Reason: "Invalid date format"}
	}
	end, err := ParseDate(endDate, loc)
	if err != nil {
		return nil, &consts.ValidationError{Field: "end_date", Reason: "Invalid date format"}
	}
	if !end.After(start) {
		return nil, &consts.ValidationError{Field: "end_date", Reason: "End date must be after start date"}
	}
	if end.Sub(start) > time.Duration(maxDays)*24*time.Hour {
		return nil, &consts.ValidationError{
			Field:  "end_date",
			Reason: fmt.Sprintf("Vacation period cannot exceed %d days", maxDays),
		}
	}

	return &Vacation{
		Subject:   subject,
		Message:   message,
		StartDate: startDate,
		EndDate:   endDate,
		Enabled:   true,
	}, nil
}

func decodeVacation(data []byte) (*Vacation, error) {
	var v Vacation
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode vacation record: %w", err)
	}
	return &v, nil
}

func encodeVacation(v *Vacation) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode vacation record: %w", err)
	}
	return append(data, '\n'), nil
}
