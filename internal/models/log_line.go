// Package models contains domain types for the FAHClient log parser.
package models

import (
	"fmt"
	"time"
)

// LineType identifies what a single log line means to the run aggregator.
type LineType int

const (
	LineTypeUnknown LineType = iota
	LineTypeParserError
	LineTypeLogOpen
	LineTypeLogDate
	LineTypeClientVersion
	LineTypeClientArguments
	LineTypeClientShutdown
	LineTypeSlotEnabled
	LineTypeWorkUnitWorking
	LineTypeWorkUnitCoreStart
	LineTypeWorkUnitCoreVersion
	LineTypeWorkUnitProject
	LineTypeWorkUnitFrame
	LineTypeWorkUnitPaused
	LineTypeWorkUnitCoreShutdown
	LineTypeWorkUnitCoreReturn
	LineTypeWorkUnitTooManyErrors
	LineTypeWorkUnitCleaningUp
	LineTypeWorkUnitRunning
)

var lineTypeNames = map[LineType]string{
	LineTypeUnknown:               "Unknown",
	LineTypeParserError:           "ParserError",
	LineTypeLogOpen:               "LogOpen",
	LineTypeLogDate:               "LogDate",
	LineTypeClientVersion:         "ClientVersion",
	LineTypeClientArguments:       "ClientArguments",
	LineTypeClientShutdown:        "ClientShutdown",
	LineTypeSlotEnabled:           "SlotEnabled",
	LineTypeWorkUnitWorking:       "WorkUnitWorking",
	LineTypeWorkUnitCoreStart:     "WorkUnitCoreStart",
	LineTypeWorkUnitCoreVersion:   "WorkUnitCoreVersion",
	LineTypeWorkUnitProject:       "WorkUnitProject",
	LineTypeWorkUnitFrame:         "WorkUnitFrame",
	LineTypeWorkUnitPaused:        "WorkUnitPaused",
	LineTypeWorkUnitCoreShutdown:  "WorkUnitCoreShutdown",
	LineTypeWorkUnitCoreReturn:    "WorkUnitCoreReturn",
	LineTypeWorkUnitTooManyErrors: "WorkUnitTooManyErrors",
	LineTypeWorkUnitCleaningUp:    "WorkUnitCleaningUp",
	LineTypeWorkUnitRunning:       "WorkUnitRunning",
}

func (t LineType) String() string {
	if name, ok := lineTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("LineType(%d)", int(t))
}

// MarshalText lets line types travel as names in JSON and msgpack.
func (t LineType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (t *LineType) UnmarshalText(text []byte) error {
	for v, name := range lineTypeNames {
		if name == string(text) {
			*t = v
			return nil
		}
	}
	return fmt.Errorf("unknown line type %q", text)
}

// TimeOfDay is the offset from midnight carried by a "HH:MM:SS:" line prefix.
// FAHClient lines carry no date; the date comes from the run's start banner.
type TimeOfDay time.Duration

// NewTimeOfDay builds a TimeOfDay from clock components.
func NewTimeOfDay(hour, min, sec int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute + time.Duration(sec)*time.Second)
}

// Sub returns the elapsed time from prev to t, assuming at most one midnight
// rollover between the two samples.
func (t TimeOfDay) Sub(prev TimeOfDay) time.Duration {
	d := time.Duration(t) - time.Duration(prev)
	if d < 0 {
		d += 24 * time.Hour
	}
	return d
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// MarshalText renders the clock form.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses the HH:MM:SS form produced by MarshalText.
func (t *TimeOfDay) UnmarshalText(text []byte) error {
	var h, m, s int
	if _, err := fmt.Sscanf(string(text), "%02d:%02d:%02d", &h, &m, &s); err != nil {
		return fmt.Errorf("invalid time of day %q: %w", text, err)
	}
	if h > 23 || m > 59 || s > 59 {
		return fmt.Errorf("invalid time of day %q", text)
	}
	*t = NewTimeOfDay(h, m, s)
	return nil
}

// LogLine is one classified physical line. Lines are never mutated after the
// classifier produces them.
type LogLine struct {
	Index int        `json:"index" msgpack:"index"`
	Raw   string     `json:"raw" msgpack:"raw"`
	Time  *TimeOfDay `json:"time,omitempty" msgpack:"time,omitempty"`
	Type  LineType   `json:"type" msgpack:"type"`

	// Prefix tokens. QueueIndex and SlotIndex are -1 when the line has no
	// "WUxx:FSyy:" prefix.
	QueueIndex int    `json:"queueIndex" msgpack:"queueIndex"`
	SlotIndex  int    `json:"slotIndex" msgpack:"slotIndex"`
	CoreTag    string `json:"coreTag,omitempty" msgpack:"coreTag,omitempty"`
	Body       string `json:"-" msgpack:"-"`

	Data LineData `json:"data,omitempty" msgpack:"-"`
}

// HasUnitPrefix reports whether the line addresses a work unit queue on a slot.
func (l LogLine) HasUnitPrefix() bool {
	return l.QueueIndex >= 0 && l.SlotIndex >= 0
}

// ParserError returns the failure payload of a ParserError line.
func (l LogLine) ParserError() (*ParserErrorData, bool) {
	d, ok := l.Data.(*ParserErrorData)
	return d, ok
}

// LineData is the closed set of per-line payloads. Only types in this package
// implement it.
type LineData interface {
	lineData()
}

// ClientRunFragment is produced by client-level lines (start banner, build info).
type ClientRunFragment struct {
	StartTime     time.Time `json:"startTime,omitempty"`
	ClientVersion string    `json:"clientVersion,omitempty"`
	Arguments     string    `json:"arguments,omitempty"`
}

// SlotFragment is produced by a folding slot announcement.
type SlotFragment struct {
	SlotIndex   int    `json:"slotIndex"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

// UnitRunFragment carries the work unit fields one line contributes. Zero
// values mean "not present on this line".
type UnitRunFragment struct {
	CoreVersion    string         `json:"coreVersion,omitempty"`
	HasProject     bool           `json:"hasProject,omitempty"`
	ProjectID      int            `json:"projectId,omitempty"`
	ProjectRun     int            `json:"projectRun,omitempty"`
	ProjectClone   int            `json:"projectClone,omitempty"`
	ProjectGen     int            `json:"projectGen,omitempty"`
	WorkUnitResult WorkUnitResult `json:"workUnitResult,omitempty"`
}

// ParserErrorData describes a line that matched a rule whose extractor failed.
type ParserErrorData struct {
	RuleType LineType `json:"ruleType"`
	Reason   string   `json:"reason"`
	Content  string   `json:"content"`
}

func (e *ParserErrorData) Error() string {
	return fmt.Sprintf("%s: %s: %q", e.RuleType, e.Reason, e.Content)
}

func (*ClientRunFragment) lineData() {}
func (*SlotFragment) lineData()      {}
func (*UnitRunFragment) lineData()   {}
func (*WorkUnitFrameData) lineData() {}
func (*ParserErrorData) lineData()   {}
