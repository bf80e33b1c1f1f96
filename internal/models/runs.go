package models

import (
	"fmt"
	"sort"
	"time"
)

// WorkUnitResult is the terminal outcome reported for a work unit.
type WorkUnitResult int

const (
	WorkUnitResultNone WorkUnitResult = iota
	WorkUnitResultFinishedUnit
	WorkUnitResultEarlyUnitEnd
	WorkUnitResultUnstableMachine
	WorkUnitResultInterrupted
	WorkUnitResultBadWorkUnit
	WorkUnitResultCoreOutdated
	WorkUnitResultUnknownEnum
	WorkUnitResultGpuMemtestError
	WorkUnitResultBadFrameChecksum
	WorkUnitResultClientCoreError
	WorkUnitResultWuStalled
)

// workUnitResultNames maps the client's result tokens to results.
var workUnitResultNames = map[string]WorkUnitResult{
	"FINISHED_UNIT":      WorkUnitResultFinishedUnit,
	"EARLY_UNIT_END":     WorkUnitResultEarlyUnitEnd,
	"UNSTABLE_MACHINE":   WorkUnitResultUnstableMachine,
	"INTERRUPTED":        WorkUnitResultInterrupted,
	"BAD_WORK_UNIT":      WorkUnitResultBadWorkUnit,
	"CORE_OUTDATED":      WorkUnitResultCoreOutdated,
	"UNKNOWN_ENUM":       WorkUnitResultUnknownEnum,
	"GPU_MEMTEST_ERROR":  WorkUnitResultGpuMemtestError,
	"BAD_FRAME_CHECKSUM": WorkUnitResultBadFrameChecksum,
	"CLIENT_CORE_ERROR":  WorkUnitResultClientCoreError,
	"WU_STALLED":         WorkUnitResultWuStalled,
}

// ParseWorkUnitResult converts a client result token such as "FINISHED_UNIT".
func ParseWorkUnitResult(token string) (WorkUnitResult, error) {
	if r, ok := workUnitResultNames[token]; ok {
		return r, nil
	}
	return WorkUnitResultNone, fmt.Errorf("unknown work unit result %q", token)
}

func (r WorkUnitResult) String() string {
	if r == WorkUnitResultNone {
		return "NONE"
	}
	for name, v := range workUnitResultNames {
		if v == r {
			return name
		}
	}
	return fmt.Sprintf("WorkUnitResult(%d)", int(r))
}

// MarshalText renders the client token.
func (r WorkUnitResult) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText accepts the tokens produced by MarshalText.
func (r *WorkUnitResult) UnmarshalText(text []byte) error {
	if string(text) == "NONE" {
		*r = WorkUnitResultNone
		return nil
	}
	v, err := ParseWorkUnitResult(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ResultClass says how a result contributes to a slot's tallies.
type ResultClass int

const (
	ResultClassNeither ResultClass = iota
	ResultClassSuccess
	ResultClassFailure
)

// Class returns the tally class of the result. Interrupted and unstable
// machine outcomes are counted as neither completed nor failed.
func (r WorkUnitResult) Class() ResultClass {
	switch r {
	case WorkUnitResultFinishedUnit:
		return ResultClassSuccess
	case WorkUnitResultEarlyUnitEnd,
		WorkUnitResultBadWorkUnit,
		WorkUnitResultCoreOutdated,
		WorkUnitResultUnknownEnum,
		WorkUnitResultGpuMemtestError,
		WorkUnitResultBadFrameChecksum,
		WorkUnitResultClientCoreError,
		WorkUnitResultWuStalled:
		return ResultClassFailure
	default:
		return ResultClassNeither
	}
}

// ClientRun is one continuous client process lifetime.
type ClientRun struct {
	Index     int           `json:"index" msgpack:"index"`
	LineStart int           `json:"lineStart" msgpack:"lineStart"`
	LineEnd   int           `json:"lineEnd" msgpack:"lineEnd"`
	Data      ClientRunData `json:"data" msgpack:"data"`
	// SlotRuns is kept in first-seen order; slot indices are unique.
	SlotRuns []*SlotRun `json:"slotRuns" msgpack:"slotRuns"`
}

// ClientRunData holds the fields known once per client run.
type ClientRunData struct {
	StartTime     time.Time `json:"startTime" msgpack:"startTime"`
	ClientVersion string    `json:"clientVersion,omitempty" msgpack:"clientVersion,omitempty"`
	Arguments     string    `json:"arguments,omitempty" msgpack:"arguments,omitempty"`
}

// SlotRun returns the slot run with the given slot index.
func (r *ClientRun) SlotRun(slotIndex int) (*SlotRun, bool) {
	for _, s := range r.SlotRuns {
		if s.Index == slotIndex {
			return s, true
		}
	}
	return nil, false
}

// SlotIndices returns the slot indices in ascending order.
func (r *ClientRun) SlotIndices() []int {
	keys := make([]int, 0, len(r.SlotRuns))
	for _, s := range r.SlotRuns {
		keys = append(keys, s.Index)
	}
	sort.Ints(keys)
	return keys
}

// SlotRun is one folding slot's history within a client run.
type SlotRun struct {
	Index          int         `json:"index" msgpack:"index"`
	ClientRunIndex int         `json:"clientRunIndex" msgpack:"clientRunIndex"`
	Data           SlotRunData `json:"data" msgpack:"data"`
	UnitRuns       []*UnitRun  `json:"unitRuns" msgpack:"unitRuns"`
}

// SlotRunData holds running tallies for the slot.
type SlotRunData struct {
	CompletedUnits int    `json:"completedUnits" msgpack:"completedUnits"`
	FailedUnits    int    `json:"failedUnits" msgpack:"failedUnits"`
	Status         string `json:"status,omitempty" msgpack:"status,omitempty"`
	Description    string `json:"description,omitempty" msgpack:"description,omitempty"`
}

// UnitRun is one attempt at a work unit observed on a slot. LineStart and
// LineEnd are inclusive indices into the owning log's flat line list.
type UnitRun struct {
	ClientRunIndex int         `json:"clientRunIndex" msgpack:"clientRunIndex"`
	SlotIndex      int         `json:"slotIndex" msgpack:"slotIndex"`
	QueueIndex     int         `json:"queueIndex" msgpack:"queueIndex"`
	LineStart      int         `json:"lineStart" msgpack:"lineStart"`
	LineEnd        int         `json:"lineEnd" msgpack:"lineEnd"`
	Data           UnitRunData `json:"data" msgpack:"data"`
}

// UnitRunData accumulates the fields reported across a unit run's lines.
type UnitRunData struct {
	UnitStartTimeStamp *TimeOfDay     `json:"unitStartTimeStamp,omitempty" msgpack:"unitStartTimeStamp,omitempty"`
	CoreID             string         `json:"coreId,omitempty" msgpack:"coreId,omitempty"`
	CoreVersion        string         `json:"coreVersion,omitempty" msgpack:"coreVersion,omitempty"`
	FramesObserved     int            `json:"framesObserved" msgpack:"framesObserved"`
	ProjectID          int            `json:"projectId" msgpack:"projectId"`
	ProjectRun         int            `json:"projectRun" msgpack:"projectRun"`
	ProjectClone       int            `json:"projectClone" msgpack:"projectClone"`
	ProjectGen         int            `json:"projectGen" msgpack:"projectGen"`
	WorkUnitResult     WorkUnitResult `json:"workUnitResult" msgpack:"workUnitResult"`
	// FrameData is keyed by frame id (percent complete).
	FrameData map[int]WorkUnitFrameData `json:"frameData" msgpack:"frameData"`
}

// FrameIDs returns the observed frame ids in ascending order.
func (d *UnitRunData) FrameIDs() []int {
	ids := make([]int, 0, len(d.FrameData))
	for id := range d.FrameData {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// WorkUnitFrameData is one percent-complete sample within a unit run.
type WorkUnitFrameData struct {
	ID                int           `json:"id" msgpack:"id"`
	RawFramesComplete int64         `json:"rawFramesComplete" msgpack:"rawFramesComplete"`
	RawFramesTotal    int64         `json:"rawFramesTotal" msgpack:"rawFramesTotal"`
	TimeStamp         TimeOfDay     `json:"timeStamp" msgpack:"timeStamp"`
	Duration          time.Duration `json:"duration" msgpack:"duration"`
}
