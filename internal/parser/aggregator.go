package parser

import (
	"github.com/harlam357/hfm-net-sub005/internal/models"
)

// unitKey addresses a work unit the way the client does: queue id on a slot.
type unitKey struct {
	slot  int
	queue int
}

// unitState is the aggregator's bookkeeping for a unit run still receiving lines.
type unitState struct {
	unit *models.UnitRun

	hasFrame  bool
	minFrame  int
	lastFrame models.TimeOfDay

	// counted is the tally class this unit currently contributes to its slot.
	counted models.ResultClass
}

// RunAggregator folds classified lines into the ClientRun hierarchy in a
// single pass. It never fails: lines it cannot place are left out of the
// hierarchy but still appear in the caller's line list.
//
// A RunAggregator is not safe for concurrent use.
type RunAggregator struct {
	runs    []*models.ClientRun
	current *models.ClientRun
	active  map[unitKey]*unitState

	firstIndex int
	lastIndex  int
	seen       bool
}

// NewRunAggregator creates an empty aggregator.
func NewRunAggregator() *RunAggregator {
	return &RunAggregator{active: make(map[unitKey]*unitState)}
}

// ClientRuns returns the runs built so far, oldest first.
func (a *RunAggregator) ClientRuns() []*models.ClientRun {
	return a.runs
}

// Reset discards all state.
func (a *RunAggregator) Reset() {
	a.runs = nil
	a.current = nil
	a.active = make(map[unitKey]*unitState)
	a.firstIndex, a.lastIndex, a.seen = 0, 0, false
}

// Add applies one classified line.
func (a *RunAggregator) Add(line models.LogLine) {
	if !a.seen {
		a.firstIndex = line.Index
		a.seen = true
	}
	a.lastIndex = line.Index

	switch line.Type {
	case models.LineTypeUnknown, models.LineTypeParserError, models.LineTypeLogDate:
		return
	case models.LineTypeLogOpen:
		a.startClientRun(line)
		return
	case models.LineTypeClientVersion, models.LineTypeClientArguments:
		a.mergeClientRun(line)
		return
	case models.LineTypeClientShutdown:
		a.ensureClientRun(line.Index)
		return
	case models.LineTypeSlotEnabled:
		a.enableSlot(line)
		return
	}

	if !line.HasUnitPrefix() {
		return
	}
	if line.Type == models.LineTypeWorkUnitWorking {
		a.startUnitRun(line)
		return
	}
	a.routeUnitLine(line)
}

// Finish closes the open branches at the last line seen. Units without a
// terminal result keep WorkUnitResult None. Finish may be followed by more
// Add calls when a log is read in pieces.
func (a *RunAggregator) Finish() {
	if !a.seen {
		return
	}
	if a.current != nil {
		a.current.LineEnd = a.lastIndex
	}
	for _, st := range a.active {
		if st.unit.Data.WorkUnitResult == models.WorkUnitResultNone {
			st.unit.LineEnd = a.lastIndex
		}
	}
}

func (a *RunAggregator) startClientRun(line models.LogLine) {
	a.closeClientRun(line.Index - 1)

	run := &models.ClientRun{
		Index:     len(a.runs),
		LineStart: line.Index,
		LineEnd:   line.Index,
	}
	if f, ok := line.Data.(*models.ClientRunFragment); ok {
		run.Data.StartTime = f.StartTime
	}
	a.runs = append(a.runs, run)
	a.current = run
}

// closeClientRun stops the current run from receiving children. Units still
// without a result end at lineEnd.
func (a *RunAggregator) closeClientRun(lineEnd int) {
	if a.current == nil {
		return
	}
	a.current.LineEnd = lineEnd
	for key, st := range a.active {
		if st.unit.Data.WorkUnitResult == models.WorkUnitResultNone {
			st.unit.LineEnd = lineEnd
		}
		delete(a.active, key)
	}
	a.current = nil
}

// ensureClientRun opens an implicit run for logs that begin mid-run, e.g.
// after rotation. Its StartTime is unknown and stays zero.
func (a *RunAggregator) ensureClientRun(index int) *models.ClientRun {
	if a.current != nil {
		return a.current
	}
	run := &models.ClientRun{
		Index:     len(a.runs),
		LineStart: a.firstIndex,
		LineEnd:   index,
	}
	a.runs = append(a.runs, run)
	a.current = run
	return run
}

func (a *RunAggregator) mergeClientRun(line models.LogLine) {
	run := a.ensureClientRun(line.Index)
	f, ok := line.Data.(*models.ClientRunFragment)
	if !ok {
		return
	}
	if f.ClientVersion != "" {
		run.Data.ClientVersion = f.ClientVersion
	}
	if f.Arguments != "" {
		run.Data.Arguments = f.Arguments
	}
}

func (a *RunAggregator) ensureSlotRun(slotIndex, lineIndex int) *models.SlotRun {
	run := a.ensureClientRun(lineIndex)
	if slot, ok := run.SlotRun(slotIndex); ok {
		return slot
	}
	slot := &models.SlotRun{
		Index:          slotIndex,
		ClientRunIndex: run.Index,
		UnitRuns:       []*models.UnitRun{},
	}
	run.SlotRuns = append(run.SlotRuns, slot)
	return slot
}

func (a *RunAggregator) enableSlot(line models.LogLine) {
	f, ok := line.Data.(*models.SlotFragment)
	if !ok {
		return
	}
	slot := a.ensureSlotRun(f.SlotIndex, line.Index)
	if f.Status != "" {
		slot.Data.Status = f.Status
	}
	if f.Description != "" {
		slot.Data.Description = f.Description
	}
	a.detachSlotUnits(slot.Index, line.Index-1, false)
}

// detachSlotUnits stops routing lines to the slot's active units. Units that
// never reported a result end at lineEnd. With keepFinished set, units that
// already have a result keep receiving their upload and cleanup lines.
func (a *RunAggregator) detachSlotUnits(slotIndex, lineEnd int, keepFinished bool) {
	for key, st := range a.active {
		if key.slot != slotIndex {
			continue
		}
		if st.unit.Data.WorkUnitResult != models.WorkUnitResultNone {
			if keepFinished {
				continue
			}
		} else {
			st.unit.LineEnd = lineEnd
		}
		delete(a.active, key)
	}
}

func (a *RunAggregator) startUnitRun(line models.LogLine) *unitState {
	slot := a.ensureSlotRun(line.SlotIndex, line.Index)
	a.detachSlotUnits(slot.Index, line.Index-1, true)

	unit := &models.UnitRun{
		ClientRunIndex: slot.ClientRunIndex,
		SlotIndex:      slot.Index,
		QueueIndex:     line.QueueIndex,
		LineStart:      line.Index,
		LineEnd:        line.Index,
		Data: models.UnitRunData{
			FrameData: make(map[int]models.WorkUnitFrameData),
		},
	}
	if line.Time != nil {
		ts := *line.Time
		unit.Data.UnitStartTimeStamp = &ts
	}
	slot.UnitRuns = append(slot.UnitRuns, unit)

	st := &unitState{unit: unit}
	a.active[unitKey{slot: slot.Index, queue: line.QueueIndex}] = st
	return st
}

// unitDataTypes are the line types that imply a running unit even when its
// "Starting" line was rotated out of the log.
var unitDataTypes = map[models.LineType]bool{
	models.LineTypeWorkUnitCoreStart:     true,
	models.LineTypeWorkUnitCoreVersion:   true,
	models.LineTypeWorkUnitProject:       true,
	models.LineTypeWorkUnitFrame:         true,
	models.LineTypeWorkUnitPaused:        true,
	models.LineTypeWorkUnitCoreShutdown:  true,
	models.LineTypeWorkUnitCoreReturn:    true,
	models.LineTypeWorkUnitTooManyErrors: true,
}

func (a *RunAggregator) routeUnitLine(line models.LogLine) {
	key := unitKey{slot: line.SlotIndex, queue: line.QueueIndex}
	st, ok := a.active[key]
	if !ok {
		if !unitDataTypes[line.Type] {
			a.ensureSlotRun(line.SlotIndex, line.Index)
			return
		}
		st = a.startUnitRun(line)
	}

	unit := st.unit
	unit.LineEnd = line.Index
	if line.CoreTag != "" && unit.Data.CoreID == "" {
		unit.Data.CoreID = line.CoreTag
	}
	if unit.Data.UnitStartTimeStamp == nil && line.Time != nil {
		ts := *line.Time
		unit.Data.UnitStartTimeStamp = &ts
	}

	switch line.Type {
	case models.LineTypeWorkUnitCoreStart:
		if line.Time != nil {
			ts := *line.Time
			unit.Data.UnitStartTimeStamp = &ts
		}
	case models.LineTypeWorkUnitFrame:
		if f, ok := line.Data.(*models.WorkUnitFrameData); ok {
			a.addFrame(st, *f)
		}
	case models.LineTypeWorkUnitCoreVersion,
		models.LineTypeWorkUnitProject,
		models.LineTypeWorkUnitCoreShutdown,
		models.LineTypeWorkUnitCoreReturn:
		if f, ok := line.Data.(*models.UnitRunFragment); ok {
			a.mergeUnitRun(st, f, line.Index)
		}
	case models.LineTypeWorkUnitCleaningUp:
		delete(a.active, key)
	}
}

func (a *RunAggregator) addFrame(st *unitState, frame models.WorkUnitFrameData) {
	if st.hasFrame && frame.ID > st.minFrame {
		frame.Duration = frame.TimeStamp.Sub(st.lastFrame)
	} else {
		frame.Duration = 0
	}
	if !st.hasFrame || frame.ID < st.minFrame {
		st.minFrame = frame.ID
	}
	st.hasFrame = true
	st.lastFrame = frame.TimeStamp

	st.unit.Data.FrameData[frame.ID] = frame
	st.unit.Data.FramesObserved++
}

func (a *RunAggregator) mergeUnitRun(st *unitState, f *models.UnitRunFragment, index int) {
	d := &st.unit.Data
	if f.CoreVersion != "" {
		d.CoreVersion = f.CoreVersion
	}
	if f.HasProject {
		d.ProjectID = f.ProjectID
		d.ProjectRun = f.ProjectRun
		d.ProjectClone = f.ProjectClone
		d.ProjectGen = f.ProjectGen
	}
	if f.WorkUnitResult == models.WorkUnitResultNone {
		return
	}

	d.WorkUnitResult = f.WorkUnitResult
	st.unit.LineEnd = index
	a.tally(st, f.WorkUnitResult.Class())
}

// tally counts each unit once. A later result of a different class moves the
// unit's contribution rather than adding to it.
func (a *RunAggregator) tally(st *unitState, class models.ResultClass) {
	if class == st.counted {
		return
	}
	run := a.runs[st.unit.ClientRunIndex]
	slot, ok := run.SlotRun(st.unit.SlotIndex)
	if !ok {
		return
	}
	adjustTally(&slot.Data, st.counted, -1)
	adjustTally(&slot.Data, class, 1)
	st.counted = class
}

func adjustTally(d *models.SlotRunData, class models.ResultClass, delta int) {
	switch class {
	case models.ResultClassSuccess:
		d.CompletedUnits += delta
	case models.ResultClassFailure:
		d.FailedUnits += delta
	}
}
