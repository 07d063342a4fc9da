package expense

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the only date format accepted by review forms, e.g. "Feb 2 2025"
const DateLayout = "Jan 2 2006"

// Section identifies one row of the review form
type Section string

const (
	SectionCategory Section = "category"
	SectionDate     Section = "date"
	SectionTotal    Section = "total"
	SectionNote     Section = "note"
)

var (
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidDate     = errors.New("invalid date")
	ErrInvalidTotal    = errors.New("invalid total")
)

// ReviewError reports which section of the review form failed validation
type ReviewError struct {
	Section Section
	Value   string
	Err     error
}

func (e *ReviewError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Section, e.Value, e.Err)
}

func (e *ReviewError) Unwrap() error {
	return e.Err
}

// Review validates the review form rows and coerces them into a typed record.
// Sections are checked in the order category, date, total; the first failure is returned.
func Review(rows map[Section]string) (*ConsolidatedExpenseInformation, error) {
	rawCategory := rows[SectionCategory]
	category, ok := CategoryFromDisplayName(rawCategory)
	if !ok {
		return nil, &ReviewError{Section: SectionCategory, Value: rawCategory, Err: ErrInvalidCategory}
	}

	rawDate := strings.TrimSpace(rows[SectionDate])
	date, err := time.Parse(DateLayout, rawDate)
	if err != nil {
		return nil, &ReviewError{Section: SectionDate, Value: rawDate, Err: ErrInvalidDate}
	}

	rawTotal := strings.TrimSpace(rows[SectionTotal])
	total, err := strconv.ParseFloat(rawTotal, 64)
	if err != nil || math.IsNaN(total) || math.IsInf(total, 0) {
		return nil, &ReviewError{Section: SectionTotal, Value: rawTotal, Err: ErrInvalidTotal}
	}

	return &ConsolidatedExpenseInformation{
		Category: category,
		Total:    total,
		Date:     date,
		Note:     strings.TrimSpace(rows[SectionNote]),
	}, nil
}
