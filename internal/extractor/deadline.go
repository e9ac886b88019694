package extractor

import (
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var deadlineParser = newDeadlineParser()

func newDeadlineParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// DetectDeadline looks for a natural-language deadline phrase in text — "by Friday", "on
// 2026-01-15", "tomorrow morning" — relative to now. It returns the resolved time and the
// matched phrase; ok is false when no deadline phrase is found.
func DetectDeadline(text string, now time.Time) (at time.Time, phrase string, ok bool) {
	result, err := deadlineParser.Parse(text, now)
	if err != nil || result == nil {
		return time.Time{}, "", false
	}
	return result.Time, result.Text, true
}

// HasDeadline is the boolean-only convenience Guards uses to decide whether a commitment
// needs a "no deadline detected" warning.
func HasDeadline(text string, now time.Time) bool {
	_, _, ok := DetectDeadline(text, now)
	return ok
}
