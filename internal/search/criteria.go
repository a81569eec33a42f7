// Package search turns the directory's search form into a student predicate,
// both as an in-process matcher and as a SQL WHERE clause.
package search

import (
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/stemsi/student-directory/internal/model"
)

// DateType selects how GraduationDate is compared.
type DateType string

const (
	DateBefore DateType = "before"
	DateAfter  DateType = "after"
)

func (d DateType) valid() bool {
	return d == DateBefore || d == DateAfter
}

// Criteria is a parsed search request. The zero value means "no search".
type Criteria struct {
	Major          model.Major
	GraduationDate *time.Time
	DateType       DateType
}

// FromParams reads search[major], search[graduation_date] and
// search[date_type] (already unwrapped by the caller). Blank values count as
// absent; a date that does not parse or has no valid date_type is dropped.
func FromParams(p map[string]string) Criteria {
	c := Criteria{
		Major: model.Major(strings.TrimSpace(p["major"])),
	}

	raw := strings.TrimSpace(p["graduation_date"])
	dt := DateType(strings.ToLower(strings.TrimSpace(p["date_type"])))
	if raw == "" || !dt.valid() {
		return c
	}
	d, err := time.Parse(model.DateLayout, raw)
	if err != nil {
		return c
	}
	c.GraduationDate = &d
	c.DateType = dt
	return c
}

// Empty reports whether no criterion was supplied.
func (c Criteria) Empty() bool {
	return c.Major == "" && !c.HasDate()
}

// HasDate reports whether a graduation date comparison applies.
func (c Criteria) HasDate() bool {
	return c.GraduationDate != nil && c.DateType.valid()
}

// DateValue renders the date criterion for re-populating the form.
func (c Criteria) DateValue() string {
	if c.GraduationDate == nil {
		return ""
	}
	return c.GraduationDate.Format(model.DateLayout)
}

// cutoffBefore reports whether d falls strictly before the criterion date.
//
// "after" uses the same comparison as "before"; existing clients rely on both
// returning identical results. See DESIGN.md before changing it.
func (c Criteria) cutoffBefore(d time.Time) bool {
	return d.Before(*c.GraduationDate)
}

// Match evaluates the criteria against a single record. An empty Criteria
// matches nothing.
func (c Criteria) Match(s *model.Student) bool {
	if c.Empty() {
		return false
	}
	if c.Major != "" && s.Major != c.Major {
		return false
	}
	if c.HasDate() {
		if s.GraduationDate == nil || !c.cutoffBefore(*s.GraduationDate) {
			return false
		}
	}
	return true
}

// Where builds the equivalent SQL predicate over the students table.
// Callers must check Empty first; an empty Criteria yields an always-false
// clause so a slip never lists the whole directory.
func (c Criteria) Where() squirrel.Sqlizer {
	if c.Empty() {
		return squirrel.Expr("1 = 0")
	}

	and := squirrel.And{}
	if c.Major != "" {
		and = append(and, squirrel.Eq{"major": string(c.Major)})
	}
	if c.HasDate() {
		// before and after share the comparison; see cutoffBefore.
		and = append(and, squirrel.Lt{"graduation_date": *c.GraduationDate})
	}
	return and
}
