package schedule

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrInvalidRule is returned for rule fields outside their unit's range.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// Field constrains one calendar unit of a Rule. A nil *Field means the unit is
// unset, which matches every value just like a wildcard but is stored as null.
type Field struct {
	Any    bool  // "*"
	Values []int // sorted, deduplicated
}

// Every returns a wildcard field.
func Every() *Field { return &Field{Any: true} }

// At returns a field fixed at the given values.
func At(v ...int) *Field {
	f := &Field{Values: append([]int(nil), v...)}
	f.normalize()
	return f
}

func (f *Field) normalize() {
	sort.Ints(f.Values)
	out := f.Values[:0]
	for i, v := range f.Values {
		if i == 0 || v != f.Values[i-1] {
			out = append(out, v)
		}
	}
	f.Values = out
}

// restricted reports whether f limits its unit to specific values.
func (f *Field) restricted() bool { return f != nil && !f.Any }

func (f *Field) matches(v int) bool {
	if f == nil || f.Any {
		return true
	}
	for _, x := range f.Values {
		if x == v {
			return true
		}
	}
	return false
}

// MarshalJSON writes "*", a bare integer, or an integer list.
func (f Field) MarshalJSON() ([]byte, error) {
	if f.Any {
		return []byte(`"*"`), nil
	}
	if len(f.Values) == 1 {
		return json.Marshal(f.Values[0])
	}
	return json.Marshal(f.Values)
}

// UnmarshalJSON accepts "*", an integer, or an integer list.
func (f *Field) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*f = Field{}
	switch {
	case bytes.Equal(b, []byte(`"*"`)):
		f.Any = true
		return nil
	case len(b) > 0 && b[0] == '[':
		if err := json.Unmarshal(b, &f.Values); err != nil {
			return errors.Wrap(err, "rule field list")
		}
	default:
		var v int
		if err := json.Unmarshal(b, &v); err != nil {
			return errors.Wrapf(err, "rule field %s", b)
		}
		f.Values = []int{v}
	}
	if len(f.Values) == 0 {
		return errors.New("rule field list is empty")
	}
	f.normalize()
	return nil
}

// Rule is a cron-like recurrence. Fields are ANDed: the rule fires at every
// instant whose second, minute, hour, day of month, month and weekday all
// match. Month is 1-12 and DayOfWeek is 0-6 with 0 = Sunday.
type Rule struct {
	Second    *Field `json:"second"`
	Minute    *Field `json:"minute"`
	Hour      *Field `json:"hour"`
	Date      *Field `json:"date"`
	Month     *Field `json:"month"`
	DayOfWeek *Field `json:"dayOfWeek"`
}

// DefaultRule fires at second 0 of every minute.
func DefaultRule() *Rule {
	return &Rule{Second: At(0)}
}

// Daily returns a rule firing every day at hh:mm:00.
func Daily(hour, minute int) *Rule {
	return &Rule{Second: At(0), Minute: At(minute), Hour: At(hour)}
}

func (f *Field) clone() *Field {
	if f == nil {
		return nil
	}
	return &Field{Any: f.Any, Values: append([]int(nil), f.Values...)}
}

func (r *Rule) clone() *Rule {
	if r == nil {
		return nil
	}
	return &Rule{
		Second:    r.Second.clone(),
		Minute:    r.Minute.clone(),
		Hour:      r.Hour.clone(),
		Date:      r.Date.clone(),
		Month:     r.Month.clone(),
		DayOfWeek: r.DayOfWeek.clone(),
	}
}

type fieldRange struct {
	name     string
	min, max int
}

// Validate checks every fixed value against its unit's range.
func (r *Rule) Validate() error {
	checks := []struct {
		f *Field
		fieldRange
	}{
		{r.Second, fieldRange{"second", 0, 59}},
		{r.Minute, fieldRange{"minute", 0, 59}},
		{r.Hour, fieldRange{"hour", 0, 23}},
		{r.Date, fieldRange{"date", 1, 31}},
		{r.Month, fieldRange{"month", 1, 12}},
		{r.DayOfWeek, fieldRange{"dayOfWeek", 0, 6}},
	}
	for _, c := range checks {
		if c.f == nil || c.f.Any {
			continue
		}
		if len(c.f.Values) == 0 {
			return errors.Wrapf(ErrInvalidRule, "%s has no values", c.name)
		}
		for _, v := range c.f.Values {
			if v < c.min || v > c.max {
				return errors.Wrapf(ErrInvalidRule, "%s %d out of range %d-%d", c.name, v, c.min, c.max)
			}
		}
	}
	return nil
}

// searchLimit bounds Next for rules that can never match, like February 31st.
const searchLimit = 5 * 366 * 24 * time.Hour

// Next returns the first instant strictly after t that matches the rule, in
// t's location. It returns the zero time if nothing matches within five years.
// Rule satisfies cron.Schedule.
func (r *Rule) Next(t time.Time) time.Time {
	loc := t.Location()
	t = t.Truncate(time.Second).Add(time.Second)
	limit := t.Add(searchLimit)

	for t.Before(limit) {
		if !r.Month.matches(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !r.Date.matches(t.Day()) || !r.DayOfWeek.matches(int(t.Weekday())) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !r.Hour.matches(t.Hour()) || (r.Hour.restricted() && repeatedHour(t)) {
			t = nextHour(t)
			continue
		}
		if !r.Minute.matches(t.Minute()) {
			t = t.Add(time.Minute - time.Duration(t.Second())*time.Second)
			continue
		}
		if !r.Second.matches(t.Second()) {
			t = t.Add(time.Second)
			continue
		}
		return t
	}
	return time.Time{}
}

// nextHour advances to the start of the following hour by adding elapsed
// time. Across a fall-back transition this visits the repeated wall-clock hour
// twice; Next skips the second pass for rules with fixed hours.
func nextHour(t time.Time) time.Time {
	return t.Add(time.Hour - time.Duration(t.Minute())*time.Minute - time.Duration(t.Second())*time.Second)
}

// repeatedHour reports whether t falls in the second occurrence of a wall-clock
// hour repeated by a fall-back DST transition.
func repeatedHour(t time.Time) bool {
	prev := t.Add(-time.Hour)
	return prev.Hour() == t.Hour() && prev.Day() == t.Day()
}
