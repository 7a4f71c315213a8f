// Package reminder derives daily medicine reminder slots from frequency text
// and tracks per-slot taken/notification state.
package reminder

import "strings"

// Rule maps frequency text onto reminder times. A rule matches when the
// lowercased frequency contains any of its keywords.
type Rule struct {
	Name     string
	Keywords []string
	Times    []Clock
}

// DefaultRuleName names the fallback rule used when nothing matches.
const DefaultRuleName = "default"

// Evaluated in order; the first match wins. Bare digits match anywhere in
// the text, so "every 12 hours" resolves as twice daily.
var frequencyRules = []Rule{
	{
		Name:     "twice",
		Keywords: []string{"twice", "bid", "2"},
		Times:    []Clock{mustClock("9:00 AM"), mustClock("9:00 PM")},
	},
	{
		Name:     "three-times",
		Keywords: []string{"three", "tid", "3"},
		Times:    []Clock{mustClock("8:00 AM"), mustClock("2:00 PM"), mustClock("8:00 PM")},
	},
	{
		Name:     "four-times",
		Keywords: []string{"four", "qid", "4"},
		Times:    []Clock{mustClock("8:00 AM"), mustClock("12:00 PM"), mustClock("4:00 PM"), mustClock("8:00 PM")},
	},
	{
		Name:     "night",
		Keywords: []string{"night", "bedtime", "hs"},
		Times:    []Clock{mustClock("9:00 PM")},
	},
	{
		Name:     "morning",
		Keywords: []string{"morning"},
		Times:    []Clock{mustClock("8:00 AM")},
	},
}

var defaultRule = Rule{
	Name:  DefaultRuleName,
	Times: []Clock{mustClock("9:00 AM")},
}

// Rules returns a copy of the ordered rule table.
func Rules() []Rule {
	out := make([]Rule, 0, len(frequencyRules))
	for _, r := range frequencyRules {
		out = append(out, r.clone())
	}
	return out
}

// MatchFrequency returns the first rule whose keywords occur in frequency,
// or the default rule.
func MatchFrequency(frequency string) Rule {
	text := strings.ToLower(frequency)
	for _, r := range frequencyRules {
		for _, kw := range r.Keywords {
			if strings.Contains(text, kw) {
				return r.clone()
			}
		}
	}
	return defaultRule.clone()
}

// ClocksForFrequency returns the reminder times for frequency in ascending order.
func ClocksForFrequency(frequency string) []Clock {
	return MatchFrequency(frequency).Times
}

// TimesForFrequency returns the reminder times for frequency as display
// strings. It never returns an empty slice.
func TimesForFrequency(frequency string) []string {
	clocks := ClocksForFrequency(frequency)
	out := make([]string, len(clocks))
	for i, c := range clocks {
		out[i] = c.String()
	}
	return out
}

func (r Rule) clone() Rule {
	return Rule{
		Name:     r.Name,
		Keywords: append([]string(nil), r.Keywords...),
		Times:    append([]Clock(nil), r.Times...),
	}
}
