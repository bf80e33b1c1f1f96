package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harlam357/hfm-net-sub005/internal/models"
)

func TestSplitLine(t *testing.T) {
	t.Run("full prefix", func(t *testing.T) {
		l := SplitLine("03:24:28:WU01:FS01:0x11:Project: 5781 (Run 2, Clone 700, Gen 2)")
		require.NotNil(t, l.Time)
		assert.Equal(t, models.NewTimeOfDay(3, 24, 28), *l.Time)
		assert.Equal(t, 1, l.QueueIndex)
		assert.Equal(t, 1, l.SlotIndex)
		assert.Equal(t, "0x11", l.CoreTag)
		assert.Equal(t, "Project: 5781 (Run 2, Clone 700, Gen 2)", l.Body)
		assert.True(t, l.HasUnitPrefix())
	})

	t.Run("time only", func(t *testing.T) {
		l := SplitLine("03:24:22:Enabled folding slot 00: READY smp:4")
		require.NotNil(t, l.Time)
		assert.Equal(t, -1, l.QueueIndex)
		assert.Equal(t, -1, l.SlotIndex)
		assert.False(t, l.HasUnitPrefix())
		assert.Equal(t, "Enabled folding slot 00: READY smp:4", l.Body)
	})

	t.Run("no prefix", func(t *testing.T) {
		l := SplitLine("*********************** Log Started 2012-01-11T03:24:22Z ***********************")
		assert.Nil(t, l.Time)
		assert.False(t, l.HasUnitPrefix())
	})

	t.Run("invalid clock is not a prefix", func(t *testing.T) {
		l := SplitLine("25:61:00:hello")
		assert.Nil(t, l.Time)
		assert.Equal(t, "25:61:00:hello", l.Body)
	})

	t.Run("core tag requires unit prefix", func(t *testing.T) {
		l := SplitLine("03:24:28:0x11:hello")
		assert.Empty(t, l.CoreTag)
		assert.Equal(t, "0x11:hello", l.Body)
	})
}

func TestClassifier_Rules(t *testing.T) {
	c := DefaultClassifier()

	tests := []struct {
		name string
		line string
		want models.LineType
	}{
		{"start banner", "*********************** Log Started 2012-01-11T03:24:22Z ***********************", models.LineTypeLogOpen},
		{"date banner", "00:00:00:******************************* Date: 2014-07-26 *******************************", models.LineTypeLogDate},
		{"client banner is unknown", "03:24:22:************************* Folding@home Client *************************", models.LineTypeUnknown},
		{"client version", "03:24:22:      Version: 7.1.43", models.LineTypeClientVersion},
		{"build date is unknown", "03:24:22:         Date: Jan 2 2012", models.LineTypeUnknown},
		{"arguments", "03:24:22:         Args: --lifeline 2600 --command-port=36330", models.LineTypeClientArguments},
		{"slot enabled", "03:24:22:Enabled folding slot 00: READY smp:4", models.LineTypeSlotEnabled},
		{"clean exit", "10:02:14:Clean exit", models.LineTypeClientShutdown},
		{"caught signal", "10:02:11:Caught signal SIGINT on PID 4168", models.LineTypeClientShutdown},
		{"unit starting", "03:24:27:WU00:FS00:Starting", models.LineTypeWorkUnitWorking},
		{"core banner", "03:24:28:WU00:FS00:0xa3:*------------------------------*", models.LineTypeWorkUnitCoreStart},
		{"core version", "03:24:28:WU00:FS00:0xa3:Version 2.27 (Dec. 15, 2010)", models.LineTypeWorkUnitCoreVersion},
		{"core version with colon", "20:14:12:WU00:FS00:0xa4:    Version: 0.0.11", models.LineTypeWorkUnitCoreVersion},
		{"project", "03:24:28:WU00:FS00:0xa3:Project: 7610 (Run 630, Clone 0, Gen 59)", models.LineTypeWorkUnitProject},
		{"frame", "03:24:44:WU00:FS00:0xa3:Completed 120000 out of 500000 steps  (24%)", models.LineTypeWorkUnitFrame},
		{"paused", "10:02:13:WU00:FS00:Paused", models.LineTypeWorkUnitPaused},
		{"core shutdown", "03:32:39:WU01:FS01:0x11:Folding@home Core Shutdown: FINISHED_UNIT", models.LineTypeWorkUnitCoreShutdown},
		{"core return", "01:48:31:WU00:FS00:FahCore returned: UNKNOWN_ENUM (-1 = 0xffffffff)", models.LineTypeWorkUnitCoreReturn},
		{"core return old phrasing", "03:32:44:WU01:FS01:FahCore, running Unit 01, returned: FINISHED_UNIT (100 = 0x64)", models.LineTypeWorkUnitCoreReturn},
		{"too many errors", "01:49:42:WU00:FS00:Too many errors, failing", models.LineTypeWorkUnitTooManyErrors},
		{"cleaning up", "03:33:24:WU01:FS01:Cleaning up", models.LineTypeWorkUnitCleaningUp},
		{"other unit line", "03:32:47:WU01:FS01:Uploading 1.27MiB to 171.64.65.71", models.LineTypeWorkUnitRunning},
		{"blank", "", models.LineTypeUnknown},
		{"free text", "some diagnostic output", models.LineTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := c.Classify(tt.line)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifier_Payloads(t *testing.T) {
	c := DefaultClassifier()

	t.Run("start time is utc", func(t *testing.T) {
		_, data := c.Classify("*********************** Log Started 2012-01-11T03:24:22Z ***********************")
		f, ok := data.(*models.ClientRunFragment)
		require.True(t, ok)
		assert.Equal(t, time.Date(2012, 1, 11, 3, 24, 22, 0, time.UTC), f.StartTime)
	})

	t.Run("slot fragment", func(t *testing.T) {
		_, data := c.Classify(`03:24:22:Enabled folding slot 01: READY gpu:0:"Cypress [Radeon HD 5800 Series]"`)
		f, ok := data.(*models.SlotFragment)
		require.True(t, ok)
		assert.Equal(t, 1, f.SlotIndex)
		assert.Equal(t, "READY", f.Status)
		assert.Equal(t, `gpu:0:"Cypress [Radeon HD 5800 Series]"`, f.Description)
	})

	t.Run("project tuple", func(t *testing.T) {
		_, data := c.Classify("03:24:28:WU00:FS00:0xa3:Project: 7610 (Run 630, Clone 0, Gen 59)")
		f, ok := data.(*models.UnitRunFragment)
		require.True(t, ok)
		assert.True(t, f.HasProject)
		assert.Equal(t, []int{7610, 630, 0, 59}, []int{f.ProjectID, f.ProjectRun, f.ProjectClone, f.ProjectGen})
	})

	t.Run("frame record", func(t *testing.T) {
		_, data := c.Classify("03:24:44:WU00:FS00:0xa3:Completed 120000 out of 500000 steps  (24%)")
		f, ok := data.(*models.WorkUnitFrameData)
		require.True(t, ok)
		assert.Equal(t, 24, f.ID)
		assert.Equal(t, int64(120000), f.RawFramesComplete)
		assert.Equal(t, int64(500000), f.RawFramesTotal)
		assert.Equal(t, models.NewTimeOfDay(3, 24, 44), f.TimeStamp)
		assert.Zero(t, f.Duration)
	})

	t.Run("results", func(t *testing.T) {
		tests := []struct {
			line string
			want models.WorkUnitResult
		}{
			{"03:32:39:WU01:FS01:0x11:Folding@home Core Shutdown: FINISHED_UNIT", models.WorkUnitResultFinishedUnit},
			{"01:48:31:WU00:FS00:FahCore returned: UNKNOWN_ENUM (-1 = 0xffffffff)", models.WorkUnitResultUnknownEnum},
			{"03:32:44:WU01:FS01:FahCore, running Unit 01, returned: INTERRUPTED (102 = 0x66)", models.WorkUnitResultInterrupted},
			{"03:32:44:WU01:FS01:FahCore returned: BAD_WORK_UNIT (114 = 0x72)", models.WorkUnitResultBadWorkUnit},
			{"03:32:44:WU01:FS01:FahCore returned: BAD_CORE_FILES (114 = 0x72)", models.WorkUnitResultUnknownEnum},
			{"03:32:39:WU01:FS01:0x11:Folding@home Core Shutdown: SPECIAL_EXIT", models.WorkUnitResultUnknownEnum},
		}
		for _, tt := range tests {
			_, data := c.Classify(tt.line)
			f, ok := data.(*models.UnitRunFragment)
			require.True(t, ok, tt.line)
			assert.Equal(t, tt.want, f.WorkUnitResult, tt.line)
		}
	})

	t.Run("untyped lines carry no payload", func(t *testing.T) {
		_, data := c.Classify("03:24:27:WU00:FS00:Starting")
		assert.Nil(t, data)
	})
}

func TestClassifier_ParserErrors(t *testing.T) {
	c := DefaultClassifier()

	tests := []struct {
		name     string
		line     string
		ruleType models.LineType
	}{
		{"truncated frame", "03:39:26:WU02:FS01:0x11:Completed 252500 out of 5000000 st", models.LineTypeWorkUnitFrame},
		{"percent out of range", "03:39:26:WU02:FS01:0x11:Completed 1 out of 2 steps (101%)", models.LineTypeWorkUnitFrame},
		{"truncated project", "17:45:18:WU07:FS01:0x17:Project: 9204 (Run 6, Clone 41", models.LineTypeWorkUnitProject},
		{"missing result token", "01:48:31:WU00:FS00:FahCore returned: (7 = 0x7)", models.LineTypeWorkUnitCoreReturn},
		{"bad return code", "01:48:31:WU00:FS00:FahCore returned: FINISHED_UNIT (99999999999999999999 = 0x64)", models.LineTypeWorkUnitCoreReturn},
		{"bad start banner", "*********************** Log Started yesterday ***********************", models.LineTypeLogOpen},
		{"slot without index", "03:24:22:Enabled folding slot : READY", models.LineTypeSlotEnabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := c.ClassifyLine(7, tt.line)
			assert.Equal(t, models.LineTypeParserError, line.Type)

			perr, ok := line.ParserError()
			require.True(t, ok)
			assert.Equal(t, tt.ruleType, perr.RuleType)
			assert.Equal(t, tt.line, perr.Content)
			assert.NotEmpty(t, perr.Reason)
		})
	}
}

func TestClassifier_FirstMatchWins(t *testing.T) {
	// A core line that starts with "Version" is core metadata, not client build info.
	got, _ := DefaultClassifier().Classify("03:24:28:WU00:FS00:0xa3:Version: 2.27")
	assert.Equal(t, models.LineTypeWorkUnitCoreVersion, got)

	custom := NewClassifier([]Rule{
		{Type: models.LineTypeClientShutdown, Match: func(l *RawLine) bool { return true }},
		{Type: models.LineTypeUnknown, Match: func(l *RawLine) bool { return true }},
	})
	got, _ = custom.Classify("anything")
	assert.Equal(t, models.LineTypeClientShutdown, got)
}

func TestClassifier_CopiesRules(t *testing.T) {
	rules := []Rule{{Type: models.LineTypeClientShutdown, Match: func(l *RawLine) bool { return true }}}
	c := NewClassifier(rules)
	rules[0].Type = models.LineTypeLogDate

	got, _ := c.Classify("x")
	assert.Equal(t, models.LineTypeClientShutdown, got)
}

func TestClassifier_ExtractorPanicBecomesParserError(t *testing.T) {
	c := NewClassifier([]Rule{{
		Type:  models.LineTypeWorkUnitProject,
		Match: func(l *RawLine) bool { return true },
		Extract: func(l *RawLine) (models.LineData, error) {
			var m map[string]int
			m["boom"] = 1
			return nil, nil
		},
	}})

	line := c.ClassifyLine(0, "03:24:28:WU00:FS00:0xa3:Project: 1")
	assert.Equal(t, models.LineTypeParserError, line.Type)
	perr, ok := line.ParserError()
	require.True(t, ok)
	assert.Contains(t, perr.Reason, "panic")
}

func TestClassifyLine_CarriesPrefix(t *testing.T) {
	line := DefaultClassifier().ClassifyLine(42, "03:24:44:WU00:FS00:0xa3:Completed 120000 out of 500000 steps  (24%)")
	assert.Equal(t, 42, line.Index)
	assert.Equal(t, 0, line.QueueIndex)
	assert.Equal(t, 0, line.SlotIndex)
	assert.Equal(t, "0xa3", line.CoreTag)
	require.NotNil(t, line.Time)
	assert.Equal(t, "03:24:44", line.Time.String())
}

func TestDefaultRules_FreshSlice(t *testing.T) {
	a := DefaultRules()
	b := DefaultRules()
	require.Equal(t, len(a), len(b))
	a[0].Type = models.LineTypeUnknown
	assert.Equal(t, models.LineTypeLogOpen, b[0].Type)
}
