package parser

import (
	"fmt"

	"github.com/harlam357/hfm-net-sub005/internal/models"
)

// Classifier assigns a LineType and payload to decoded lines by evaluating an
// ordered rule list; the first matching rule wins.
type Classifier struct {
	rules []Rule
}

// NewClassifier creates a classifier over a copy of rules.
func NewClassifier(rules []Rule) *Classifier {
	r := make([]Rule, len(rules))
	copy(r, rules)
	return &Classifier{rules: r}
}

// DefaultClassifier creates a classifier over DefaultRules.
func DefaultClassifier() *Classifier {
	return &Classifier{rules: DefaultRules()}
}

// Classify returns the type and payload of a decoded line. Lines no rule
// recognizes are Unknown with no payload.
func (c *Classifier) Classify(line string) (models.LineType, models.LineData) {
	raw := SplitLine(line)
	return c.classify(&raw)
}

// ClassifyLine builds the LogLine for a decoded line at the given index.
func (c *Classifier) ClassifyLine(index int, line string) models.LogLine {
	raw := SplitLine(line)
	t, data := c.classify(&raw)
	return models.LogLine{
		Index:      index,
		Raw:        line,
		Time:       raw.Time,
		Type:       t,
		QueueIndex: raw.QueueIndex,
		SlotIndex:  raw.SlotIndex,
		CoreTag:    raw.CoreTag,
		Body:       raw.Body,
		Data:       data,
	}
}

func (c *Classifier) classify(raw *RawLine) (models.LineType, models.LineData) {
	for i := range c.rules {
		rule := &c.rules[i]
		if !rule.Match(raw) {
			continue
		}
		if rule.Extract == nil {
			return rule.Type, nil
		}
		data, err := extractSafe(rule, raw)
		if err != nil {
			return models.LineTypeParserError, &models.ParserErrorData{
				RuleType: rule.Type,
				Reason:   err.Error(),
				Content:  raw.Text,
			}
		}
		return rule.Type, data
	}
	return models.LineTypeUnknown, nil
}

// extractSafe runs a rule's extractor, converting a panic into an error so a
// single bad line cannot abort the scan.
func extractSafe(rule *Rule, raw *RawLine) (data models.LineData, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = fmt.Errorf("extractor panic: %v", r)
		}
	}()
	return rule.Extract(raw)
}
