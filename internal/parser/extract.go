package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/harlam357/hfm-net-sub005/internal/models"
)

var (
	logStartedRegex    = regexp.MustCompile(`Log Started (\S+)`)
	clientVersionRegex = regexp.MustCompile(`^\s*Version:\s*(\d+(?:\.\d+)+)`)
	argsRegex          = regexp.MustCompile(`^\s*Args:\s*(.*?)\s*$`)
	slotEnabledRegex   = regexp.MustCompile(`^Enabled folding slot (\d+):\s*(\S+)\s*(.*?)\s*$`)
	coreVersionRegex   = regexp.MustCompile(`^\s*Version:?\s+v?(\d+(?:\.\d+)+)`)
	projectRegex       = regexp.MustCompile(`Project:\s*(\d+)\s*\(Run\s*(\d+),\s*Clone\s*(\d+),\s*Gen\s*(\d+)\)`)
	frameRegex         = regexp.MustCompile(`^\s*Completed\s+(\d+)\s+out\s+of\s+(\d+)\s+steps\s*\((\d+)\s*%\)`)
	coreShutdownRegex  = regexp.MustCompile(`Folding@home Core Shutdown:\s*([A-Z][A-Z0-9_]*)`)
	coreReturnRegex    = regexp.MustCompile(`returned:\s*([A-Z][A-Z0-9_]*)(?:\s*\((-?\d+)\s*=\s*0x[0-9a-fA-F]+\))?`)
)

var errNoTimestamp = errors.New("line has no time-of-day prefix")

// extractLogOpen reads the UTC start time from a "Log Started" banner.
func extractLogOpen(l *RawLine) (models.LineData, error) {
	m := logStartedRegex.FindStringSubmatch(l.Body)
	if m == nil {
		return nil, errors.New("start banner has no timestamp")
	}
	start, err := parseBannerTime(m[1])
	if err != nil {
		return nil, err
	}
	return &models.ClientRunFragment{StartTime: start}, nil
}

func extractClientVersion(l *RawLine) (models.LineData, error) {
	m := clientVersionRegex.FindStringSubmatch(l.Body)
	if m == nil {
		return nil, errors.New("client version not found")
	}
	return &models.ClientRunFragment{ClientVersion: m[1]}, nil
}

func extractArguments(l *RawLine) (models.LineData, error) {
	m := argsRegex.FindStringSubmatch(l.Body)
	if m == nil {
		return nil, errors.New("arguments not found")
	}
	return &models.ClientRunFragment{Arguments: m[1]}, nil
}

// extractSlot reads "Enabled folding slot 01: READY gpu:0:GK104 [GeForce GTX 680]".
func extractSlot(l *RawLine) (models.LineData, error) {
	m := slotEnabledRegex.FindStringSubmatch(l.Body)
	if m == nil {
		return nil, errors.New("slot announcement is malformed")
	}
	slot, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, fmt.Errorf("slot index: %w", err)
	}
	return &models.SlotFragment{SlotIndex: slot, Status: m[2], Description: m[3]}, nil
}

// extractCoreVersion reads "Version 2.27 (Dec. 15, 2010)" or "  Version: 0.0.11".
func extractCoreVersion(l *RawLine) (models.LineData, error) {
	m := coreVersionRegex.FindStringSubmatch(l.Body)
	if m == nil {
		return nil, errors.New("core version not found")
	}
	return &models.UnitRunFragment{CoreVersion: m[1]}, nil
}

// extractProject reads "Project: 7610 (Run 630, Clone 0, Gen 59)".
func extractProject(l *RawLine) (models.LineData, error) {
	m := projectRegex.FindStringSubmatch(l.Body)
	if m == nil {
		return nil, errors.New("project tuple is malformed")
	}
	var vals [4]int
	for i := range vals {
		v, err := strconv.Atoi(m[i+1])
		if err != nil {
			return nil, fmt.Errorf("project field %d: %w", i, err)
		}
		vals[i] = v
	}
	return &models.UnitRunFragment{
		HasProject:   true,
		ProjectID:    vals[0],
		ProjectRun:   vals[1],
		ProjectClone: vals[2],
		ProjectGen:   vals[3],
	}, nil
}

// extractFrame reads "Completed 120000 out of 500000 steps  (24%)". The
// percentage becomes the frame id.
func extractFrame(l *RawLine) (models.LineData, error) {
	if l.Time == nil {
		return nil, errNoTimestamp
	}
	m := frameRegex.FindStringSubmatch(l.Body)
	if m == nil {
		return nil, errors.New("frame progress is malformed")
	}
	complete, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("frames complete: %w", err)
	}
	total, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("frames total: %w", err)
	}
	id, err := strconv.Atoi(m[3])
	if err != nil {
		return nil, fmt.Errorf("frame percent: %w", err)
	}
	if id > 100 {
		return nil, fmt.Errorf("frame percent %d out of range", id)
	}
	return &models.WorkUnitFrameData{
		ID:                id,
		RawFramesComplete: complete,
		RawFramesTotal:    total,
		TimeStamp:         *l.Time,
	}, nil
}

// extractCoreShutdown reads "Folding@home Core Shutdown: FINISHED_UNIT".
func extractCoreShutdown(l *RawLine) (models.LineData, error) {
	m := coreShutdownRegex.FindStringSubmatch(l.Body)
	if m == nil {
		return nil, errors.New("core shutdown result not found")
	}
	return resultFragment(m[1])
}

// extractCoreReturn reads both client phrasings:
//
//	FahCore returned: FINISHED_UNIT (100 = 0x64)
//	FahCore, running Unit 00, returned: INTERRUPTED (102 = 0x66)
func extractCoreReturn(l *RawLine) (models.LineData, error) {
	m := coreReturnRegex.FindStringSubmatch(l.Body)
	if m == nil {
		return nil, errors.New("core return result not found")
	}
	if m[2] != "" {
		if _, err := strconv.ParseInt(m[2], 10, 64); err != nil {
			return nil, fmt.Errorf("core return code: %w", err)
		}
	}
	return resultFragment(m[1])
}

// resultFragment maps a result token. Tokens newer than this build, such as
// BAD_CORE_FILES, are still terminal results and count as UnknownEnum.
func resultFragment(token string) (models.LineData, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("empty work unit result")
	}
	r, err := models.ParseWorkUnitResult(token)
	if err != nil {
		r = models.WorkUnitResultUnknownEnum
	}
	return &models.UnitRunFragment{WorkUnitResult: r}, nil
}
