// Package classifier implements the deterministic rule engine that converts
// a day's questionnaire answers into a wellbeing/performance signal: a
// numeric score, a 5-tier outcome level, the weakest activity area, and a
// negative-sentiment flag. Classify reads no clock and no randomness, so
// identical inputs always yield identical output; idempotent re-submission
// depends on that.
package classifier

import (
	"math"
	"strings"

	"castline/internal/types"
)

// negativeLexicon is the fixed negative-sentiment word list, matched as
// literal substrings against free-text answers and the memo. It is curated
// for quit/burnout/overload signals in the talents' own language. There is
// no stemming and no negation handling; over-flagging is accepted because
// the signal biases toward staff follow-up.
var negativeLexicon = []string{
	"辞め",     // quitting
	"無理",     // "can't do this"
	"辛い",     // painful
	"しんどい",   // exhausted
	"向いてない",  // "not cut out for this"
	"きつい",    // too hard
}

// Score thresholds for the outcome tiers. A negative-lexicon match forces
// the lowest tier unconditionally, regardless of score.
const (
	thresholdVeryGood = 90
	thresholdGood     = 70
	thresholdNormal   = 50
	thresholdBad      = 30
)

// Result is the classifier output recorded on the self-check row.
type Result struct {
	OverallScore     int
	OutcomeLevel     types.OutcomeLevel
	WeakArea         types.WeakArea
	Comment          string
	NextAction       string
	NegativeDetected bool
}

// Classify evaluates a response set against its template.
//
// The score is the rounded percentage of boolean questions answered "yes";
// a template with zero boolean questions scores 0 without being forced
// negative. The weak area is the prefix tag (pre_/live_/post_) with the
// most "no" answers, ties resolved live > pre > post. The comment and
// next-action strings come from the injected catalog snapshot.
func Classify(schema types.TemplateSchema, answers types.AnswerMap, memo string, catalog Catalog) Result {
	boolFields := schema.BooleanFields()

	trueCount := 0
	missByArea := map[types.WeakArea]int{}
	for _, f := range boolFields {
		if answers.Bool(f.Key) {
			trueCount++
			continue
		}
		if area, ok := areaOf(f.Key); ok {
			missByArea[area]++
		}
	}

	score := 0
	if len(boolFields) > 0 {
		score = int(math.Round(100 * float64(trueCount) / float64(len(boolFields))))
	}

	negative := detectNegative(schema, answers, memo)

	level := levelFor(score, negative)
	weak := weakestArea(missByArea)

	return Result{
		OverallScore:     score,
		OutcomeLevel:     level,
		WeakArea:         weak,
		Comment:          catalog.Comment(level),
		NextAction:       catalog.NextAction(level, weak),
		NegativeDetected: negative,
	}
}

// DetectNegative scans a single text for the negative lexicon. Exported for
// collaborator surfaces (e.g., the risk board) that scan staff-visible text
// outside a full classification.
func DetectNegative(text string) bool {
	for _, word := range negativeLexicon {
		if strings.Contains(text, word) {
			return true
		}
	}
	return false
}

func detectNegative(schema types.TemplateSchema, answers types.AnswerMap, memo string) bool {
	if DetectNegative(memo) {
		return true
	}
	for _, f := range schema.TextFields() {
		if DetectNegative(answers.Text(f.Key)) {
			return true
		}
	}
	return false
}

func levelFor(score int, negative bool) types.OutcomeLevel {
	if negative {
		return types.OutcomeVeryBad
	}
	switch {
	case score >= thresholdVeryGood:
		return types.OutcomeVeryGood
	case score >= thresholdGood:
		return types.OutcomeGood
	case score >= thresholdNormal:
		return types.OutcomeNormal
	case score >= thresholdBad:
		return types.OutcomeBad
	default:
		return types.OutcomeVeryBad
	}
}

// weakestArea picks the area with the most misses. Tie-break order is
// live > pre > post: live wins any tie it is part of, then pre, with post
// as the default.
func weakestArea(miss map[types.WeakArea]int) types.WeakArea {
	if miss[types.WeakLive] >= miss[types.WeakPre] && miss[types.WeakLive] >= miss[types.WeakPost] {
		return types.WeakLive
	}
	if miss[types.WeakPre] >= miss[types.WeakPost] {
		return types.WeakPre
	}
	return types.WeakPost
}

// areaOf maps a question key to its activity area by prefix convention.
func areaOf(key string) (types.WeakArea, bool) {
	switch {
	case strings.HasPrefix(key, "pre_"):
		return types.WeakPre, true
	case strings.HasPrefix(key, "live_"):
		return types.WeakLive, true
	case strings.HasPrefix(key, "post_"):
		return types.WeakPost, true
	default:
		return "", false
	}
}
