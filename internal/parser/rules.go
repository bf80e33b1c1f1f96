package parser

import (
	"strings"

	"github.com/harlam357/hfm-net-sub005/internal/models"
)

// Rule recognizes one line type. Match decides whether the line looks like the
// type; Extract builds its payload and may fail, which turns the line into a
// ParserError. A nil Extract means the type carries no payload.
type Rule struct {
	Type    models.LineType
	Match   func(l *RawLine) bool
	Extract func(l *RawLine) (models.LineData, error)
}

// DefaultRules returns the rule table for FAHClient 7.x logs in priority
// order. Each call returns a fresh slice.
//
// Unit rules come first because core output such as "0xa3:Version 2.27" would
// otherwise read as client build info. The two result phrasings are listed
// separately: 7.1.x clients wrote "FahCore, running Unit 00, returned:" while
// later clients write "FahCore returned:".
func DefaultRules() []Rule {
	return []Rule{
		{
			Type:    models.LineTypeLogOpen,
			Match:   func(l *RawLine) bool { return l.Time == nil && isBanner(l.Body, "Log Started") },
			Extract: extractLogOpen,
		},
		{
			Type:  models.LineTypeLogDate,
			Match: func(l *RawLine) bool { return isBanner(l.Body, "Date:") },
		},
		{
			Type:    models.LineTypeWorkUnitCoreReturn,
			Match:   unitBodyHasPrefix("FahCore, running Unit"),
			Extract: extractCoreReturn,
		},
		{
			Type:    models.LineTypeWorkUnitCoreReturn,
			Match:   unitBodyHasPrefix("FahCore returned:"),
			Extract: extractCoreReturn,
		},
		{
			Type:    models.LineTypeWorkUnitCoreShutdown,
			Match:   unitBodyContains("Core Shutdown:"),
			Extract: extractCoreShutdown,
		},
		{
			Type:  models.LineTypeWorkUnitTooManyErrors,
			Match: unitBodyHasPrefix("Too many errors"),
		},
		{
			Type:    models.LineTypeWorkUnitFrame,
			Match:   coreBodyHasPrefix("Completed "),
			Extract: extractFrame,
		},
		{
			Type:    models.LineTypeWorkUnitProject,
			Match:   coreBodyHasPrefix("Project:"),
			Extract: extractProject,
		},
		{
			Type:    models.LineTypeWorkUnitCoreVersion,
			Match:   coreBodyHasPrefix("Version"),
			Extract: extractCoreVersion,
		},
		{
			Type: models.LineTypeWorkUnitCoreStart,
			Match: func(l *RawLine) bool {
				b := strings.TrimSpace(l.Body)
				return l.CoreTag != "" && len(b) > 2 && strings.HasPrefix(b, "*-") && strings.HasSuffix(b, "-*")
			},
		},
		{
			Type: models.LineTypeWorkUnitWorking,
			Match: func(l *RawLine) bool {
				return l.HasUnitPrefix() && l.CoreTag == "" && strings.TrimSpace(l.Body) == "Starting"
			},
		},
		{
			Type:  models.LineTypeWorkUnitPaused,
			Match: unitBodyHasPrefix("Paused"),
		},
		{
			Type:  models.LineTypeWorkUnitCleaningUp,
			Match: unitBodyHasPrefix("Cleaning up"),
		},
		{
			Type:  models.LineTypeWorkUnitRunning,
			Match: func(l *RawLine) bool { return l.HasUnitPrefix() },
		},
		{
			Type:    models.LineTypeClientVersion,
			Match:   func(l *RawLine) bool { return strings.HasPrefix(strings.TrimSpace(l.Body), "Version:") },
			Extract: extractClientVersion,
		},
		{
			Type:    models.LineTypeClientArguments,
			Match:   func(l *RawLine) bool { return strings.HasPrefix(strings.TrimSpace(l.Body), "Args:") },
			Extract: extractArguments,
		},
		{
			Type:    models.LineTypeSlotEnabled,
			Match:   func(l *RawLine) bool { return strings.HasPrefix(l.Body, "Enabled folding slot") },
			Extract: extractSlot,
		},
		{
			Type: models.LineTypeClientShutdown,
			Match: func(l *RawLine) bool {
				return strings.HasPrefix(l.Body, "Clean exit") || strings.HasPrefix(l.Body, "Caught signal")
			},
		},
	}
}

// isBanner matches "****** <keyword> ... ******" lines.
func isBanner(body, keyword string) bool {
	return strings.HasPrefix(body, "***") && strings.Contains(body, keyword)
}

func unitBodyHasPrefix(prefix string) func(*RawLine) bool {
	return func(l *RawLine) bool {
		return l.HasUnitPrefix() && strings.HasPrefix(strings.TrimSpace(l.Body), prefix)
	}
}

func unitBodyContains(substr string) func(*RawLine) bool {
	return func(l *RawLine) bool {
		return l.HasUnitPrefix() && strings.Contains(l.Body, substr)
	}
}

// coreBodyHasPrefix matches lines written by a folding core ("WU00:FS00:0xa3:...").
func coreBodyHasPrefix(prefix string) func(*RawLine) bool {
	return func(l *RawLine) bool {
		return l.HasUnitPrefix() && l.CoreTag != "" && strings.HasPrefix(strings.TrimSpace(l.Body), prefix)
	}
}
