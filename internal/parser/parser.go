// Package parser turns FAHClient log text into classified lines and folds them
// into the ClientRun -> SlotRun -> UnitRun -> frame hierarchy.
package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/harlam357/hfm-net-sub005/internal/models"
)

// ProgressCallback is called periodically while reading a file.
type ProgressCallback func(linesProcessed int, bytesProcessed int64, totalBytes int64)

// RawLine is a decoded line split into the tokens FAHClient puts in front of
// a message: "HH:MM:SS:" then optionally "WUxx:FSyy:" then optionally a core
// tag "0xNN:". Rules match and extract against it.
type RawLine struct {
	Text       string
	Time       *models.TimeOfDay
	QueueIndex int
	SlotIndex  int
	CoreTag    string
	Body       string
}

// HasUnitPrefix reports whether the line carries a "WUxx:FSyy:" prefix.
func (l *RawLine) HasUnitPrefix() bool {
	return l.QueueIndex >= 0 && l.SlotIndex >= 0
}

// SplitLine parses the prefix tokens of a decoded line. Missing indices are -1
// and Body is whatever follows the last recognized token.
func SplitLine(line string) RawLine {
	p := RawLine{Text: line, QueueIndex: -1, SlotIndex: -1}

	rest := line
	if len(rest) >= 9 && rest[2] == ':' && rest[5] == ':' && rest[8] == ':' {
		if tod, ok := parseTimeOfDay(rest[:8]); ok {
			p.Time = &tod
			rest = rest[9:]
		}
	}

	// "WU00:FS01:"
	if len(rest) >= 10 && strings.HasPrefix(rest, "WU") && rest[4] == ':' &&
		rest[5:7] == "FS" && rest[9] == ':' {
		q, s := parseInt2(rest[2:4]), parseInt2(rest[7:9])
		if q >= 0 && s >= 0 {
			p.QueueIndex, p.SlotIndex = q, s
			rest = rest[10:]

			// "0xa3:"
			if len(rest) >= 5 && rest[0] == '0' && rest[1] == 'x' && rest[4] == ':' &&
				isHexByte(rest[2]) && isHexByte(rest[3]) {
				p.CoreTag = rest[:4]
				rest = rest[5:]
			}
		}
	}

	p.Body = rest
	return p
}

// parseTimeOfDay parses "HH:MM:SS" on a 24-hour clock.
func parseTimeOfDay(s string) (models.TimeOfDay, bool) {
	if len(s) != 8 || s[2] != ':' || s[5] != ':' {
		return 0, false
	}
	hour, min, sec := parseInt2(s[0:2]), parseInt2(s[3:5]), parseInt2(s[6:8])
	if hour < 0 || hour > 23 || min < 0 || min > 59 || sec < 0 || sec > 59 {
		return 0, false
	}
	return models.NewTimeOfDay(hour, min, sec), true
}

// parseBannerTime parses the UTC timestamp of a "Log Started" banner, e.g.
// "2012-01-11T03:24:22Z". The fixed layout is parsed by hand; anything else
// falls back to time.Parse.
func parseBannerTime(ts string) (time.Time, error) {
	if len(ts) == 20 && ts[4] == '-' && ts[7] == '-' && ts[10] == 'T' &&
		ts[13] == ':' && ts[16] == ':' && ts[19] == 'Z' {
		year := parseInt4(ts[0:4])
		month := parseInt2(ts[5:7])
		day := parseInt2(ts[8:10])
		hour := parseInt2(ts[11:13])
		min := parseInt2(ts[14:16])
		sec := parseInt2(ts[17:19])
		if year >= 0 && month >= 1 && month <= 12 && day >= 1 && day <= 31 &&
			hour >= 0 && hour <= 23 && min >= 0 && min <= 59 && sec >= 0 && sec <= 59 {
			return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC), nil
		}
	}

	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start time %q", ts)
	}
	return t.UTC(), nil
}

// parseInt2 parses a 2-digit decimal string. Returns -1 on error.
func parseInt2(s string) int {
	if len(s) != 2 {
		return -1
	}
	d1, d2 := s[0]-'0', s[1]-'0'
	if d1 > 9 || d2 > 9 {
		return -1
	}
	return int(d1)*10 + int(d2)
}

// parseInt4 parses a 4-digit decimal string. Returns -1 on error.
func parseInt4(s string) int {
	if len(s) != 4 {
		return -1
	}
	d1, d2, d3, d4 := s[0]-'0', s[1]-'0', s[2]-'0', s[3]-'0'
	if d1 > 9 || d2 > 9 || d3 > 9 || d4 > 9 {
		return -1
	}
	return int(d1)*1000 + int(d2)*100 + int(d3)*10 + int(d4)
}

func isHexByte(c byte) bool {
	_, ok := hexDigit(c)
	return ok
}
