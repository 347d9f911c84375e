package schedule

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// TimeUnit is the unit a schedule frequency is counted in.
type TimeUnit string

const (
	Seconds TimeUnit = "seconds"
	Minutes TimeUnit = "minutes"
	Hours   TimeUnit = "hours"
	Days    TimeUnit = "days"
)

// Units lists every supported TimeUnit, smallest first.
var Units = []TimeUnit{Seconds, Minutes, Hours, Days}

var unitDurations = map[TimeUnit]time.Duration{
	Seconds: time.Second,
	Minutes: time.Minute,
	Hours:   time.Hour,
	Days:    24 * time.Hour,
}

// ParseTimeUnit accepts the canonical tokens as well as singular and short forms
// ("minute", "m", "Min").
func ParseTimeUnit(s string) (TimeUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "seconds", "second", "sec", "s":
		return Seconds, nil
	case "minutes", "minute", "min", "m":
		return Minutes, nil
	case "hours", "hour", "h":
		return Hours, nil
	case "days", "day", "d":
		return Days, nil
	}
	return "", &ValidationError{Field: "time_unit", Reason: fmt.Sprintf("unknown time unit %q", s)}
}

// Duration returns the length of one unit, or zero for an unknown unit.
func (u TimeUnit) Duration() time.Duration {
	return unitDurations[u]
}

func (u TimeUnit) String() string {
	return string(u)
}

// ValidationError reports a rejected schedule field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// BackupSchedule is the persisted backup schedule record.
type BackupSchedule struct {
	SourcePath      string    `json:"source_path" yaml:"source_path" validate:"required"`
	DestinationPath string    `json:"destination_path" yaml:"destination_path" validate:"required,nefield=SourcePath"`
	Frequency       int       `json:"frequency" yaml:"frequency" validate:"gt=0"`
	TimeUnit        TimeUnit  `json:"time_unit" yaml:"time_unit" validate:"required,oneof=seconds minutes hours days"`
	NextRunAt       time.Time `json:"next_run_at" yaml:"next_run_at"`
}

// New builds and validates a schedule. NextRunAt is left zero; the scheduler sets it
// when the schedule is armed.
func New(source, destination string, frequency int, unit TimeUnit) (*BackupSchedule, error) {
	s := &BackupSchedule{
		SourcePath:      strings.TrimSpace(source),
		DestinationPath: strings.TrimSpace(destination),
		Frequency:       frequency,
		TimeUnit:        unit,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every field that can be checked without touching the filesystem.
// Paths are resolved at run time only.
func (s *BackupSchedule) Validate() error {
	if s == nil {
		return &ValidationError{Field: "schedule", Reason: "missing"}
	}
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fromFieldError(verrs[0])
		}
		return err
	}
	if _, err := Interval(s.Frequency, s.TimeUnit); err != nil {
		return err
	}
	return nil
}

func fromFieldError(fe validator.FieldError) *ValidationError {
	reason := fe.Tag()
	switch fe.Tag() {
	case "required":
		reason = "must not be empty"
	case "gt":
		reason = "must be greater than " + fe.Param()
	case "oneof":
		reason = fmt.Sprintf("%v is not one of [%s]", fe.Value(), fe.Param())
	case "nefield":
		reason = "must differ from source_path"
	}
	return &ValidationError{Field: fe.Field(), Reason: reason}
}

// Interval converts a frequency count and unit into a duration.
func Interval(frequency int, unit TimeUnit) (time.Duration, error) {
	d, ok := unitDurations[unit]
	if !ok {
		return 0, &ValidationError{Field: "time_unit", Reason: fmt.Sprintf("unknown time unit %q", unit)}
	}
	if frequency <= 0 {
		return 0, &ValidationError{Field: "frequency", Reason: "must be greater than 0"}
	}
	if int64(frequency) > math.MaxInt64/int64(d) {
		return 0, &ValidationError{Field: "frequency", Reason: "interval overflows"}
	}
	return time.Duration(frequency) * d, nil
}

// Interval returns the schedule's run interval. It panics on an invalid schedule;
// callers validate first.
func (s *BackupSchedule) Interval() time.Duration {
	d, err := Interval(s.Frequency, s.TimeUnit)
	if err != nil {
		panic(err)
	}
	return d
}

// Advance sets NextRunAt one interval after from.
func (s *BackupSchedule) Advance(from time.Time) {
	s.NextRunAt = from.Add(s.Interval())
}

// Clone returns a copy of s.
func (s *BackupSchedule) Clone() *BackupSchedule {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func (s *BackupSchedule) String() string {
	return fmt.Sprintf("%s -> %s every %d %s", s.SourcePath, s.DestinationPath, s.Frequency, s.TimeUnit)
}
