// Package classify turns a free-text model answer into ordered lists of risks
// and recommendations.
//
// The primary pass is a line scanner with three states (none, risks,
// recommendations). Header lines containing a marker switch state, bullet
// lines are collected into the current section. When that leaves a list
// empty, a keyword pass looks for items that follow a keyword line.
package classify

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

type section int

const (
	sectionNone section = iota
	sectionRisks
	sectionRecommendations
)

type transition struct {
	markers []string
	to      section
}

var numberedBullet = regexp.MustCompile(`^\d{1,3}[.)]`)

// Result holds the two classified lists. Either may be empty.
type Result struct {
	Risks           []string
	Recommendations []string
}

// Classifier applies a Policy to model output. It is safe for concurrent use.
type Classifier struct {
	policy      Policy
	transitions []transition
}

// New creates a Classifier for the given policy.
func New(p Policy) *Classifier {
	return &Classifier{
		policy: p,
		// Risk markers are checked first.
		transitions: []transition{
			{markers: p.RiskMarkers, to: sectionRisks},
			{markers: p.RecommendationMarkers, to: sectionRecommendations},
		},
	}
}

// Classify partitions text into risks and recommendations. It accepts any
// input, including the empty string.
func (c *Classifier) Classify(text string) Result {
	lines := splitLines(text)

	risks, recs := c.markerPass(lines)
	risks = c.clean(risks)
	recs = c.clean(recs)

	if len(risks) == 0 || len(recs) == 0 {
		fbRisks, fbRecs := c.keywordPass(lines)
		if len(risks) == 0 {
			risks = c.clean(fbRisks)
		}
		if len(recs) == 0 {
			recs = c.clean(fbRecs)
		}
	}

	return Result{Risks: risks, Recommendations: recs}
}

func (c *Classifier) markerPass(lines []string) (risks, recs []string) {
	state := sectionNone
	for _, line := range lines {
		lower := strings.ToLower(line)

		if next, ok := c.next(lower); ok {
			state = next
			continue
		}
		if containsAny(lower, c.policy.SkipPhrases) {
			continue
		}
		if runeLen(line) <= c.policy.BulletMinLength {
			continue
		}
		item, ok := c.stripBullet(line)
		if !ok {
			continue
		}

		switch state {
		case sectionRisks:
			risks = append(risks, item)
		case sectionRecommendations:
			recs = append(recs, item)
		}
	}
	return risks, recs
}

func (c *Classifier) next(lower string) (section, bool) {
	for _, t := range c.transitions {
		if containsAny(lower, t.markers) {
			return t.to, true
		}
	}
	return sectionNone, false
}

func (c *Classifier) keywordPass(lines []string) (risks, recs []string) {
	fb := c.policy.Fallback
	for i, line := range lines {
		lower := strings.ToLower(line)
		switch {
		case containsAny(lower, fb.RiskKeywords):
			if item, ok := c.lookAhead(lines, i, fb.RiskExcludePrefixes); ok {
				risks = append(risks, item)
			}
		case containsAny(lower, fb.RecommendationKeywords):
			if item, ok := c.lookAhead(lines, i, fb.RecommendationExcludePrefixes); ok {
				recs = append(recs, item)
			}
		}
	}
	return risks, recs
}

// lookAhead returns the first line after lines[i], within the fallback
// window, that is long enough and does not start with an excluded prefix.
func (c *Classifier) lookAhead(lines []string, i int, exclude []string) (string, bool) {
	fb := c.policy.Fallback
	for j := i + 1; j <= i+fb.Window && j < len(lines); j++ {
		next := lines[j]
		if runeLen(next) <= fb.MinLength {
			continue
		}
		if hasAnyPrefix(strings.ToLower(next), exclude) {
			continue
		}
		if item, ok := c.stripBullet(next); ok {
			return item, true
		}
		return next, true
	}
	return "", false
}

// stripBullet removes a list prefix from line. It reports false when the
// line does not start with one.
func (c *Classifier) stripBullet(line string) (string, bool) {
	var rest string
	found := false
	for _, b := range c.policy.Bullets {
		if b != "" && strings.HasPrefix(line, b) {
			rest, found = line[len(b):], true
			break
		}
	}
	if !found && c.policy.NumberedBullets {
		if loc := numberedBullet.FindStringIndex(line); loc != nil {
			rest, found = line[loc[1]:], true
		}
	}
	if !found {
		return "", false
	}
	return strings.TrimSpace(strings.TrimLeft(rest, " \t.)")), true
}

// clean drops short items and duplicates, keeping first occurrences.
func (c *Classifier) clean(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" || runeLen(item) <= c.policy.ItemMinLength {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func splitLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
