// Package evaluation contains the scoring engine core: the response parser,
// the concurrent evaluation orchestrator, and the lifecycle manager that
// aggregates and persists batch results.
package evaluation

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/fairyhunter13/fellowship-scoring-engine/internal/domain"
)

// Response grammar produced by the evaluation prompt:
//
//	SCORE: X/10
//	FEEDBACK:
//	– Strengths: <text until next marker or end>
//	– Areas for Improvement: <text until next marker or end>
//
// Models are inconsistent about dash characters and spacing, so the markers
// accept en dash, hyphen, or no dash at all, and any amount of whitespace.
var (
	scoreRe        = regexp.MustCompile(`(?i)SCORE:\s*(\d+(?:\.\d+)?)\s*/\s*10`)
	strengthsRe    = regexp.MustCompile(`(?is)[–—-]?\s*Strengths:\s*(.*?)\s*(?:[–—-]?\s*Areas\s+for\s+Improvement:|$)`)
	improvementsRe = regexp.MustCompile(`(?is)[–—-]?\s*Areas\s+for\s+Improvement:\s*(.*)$`)
)

// Parse converts the free-text output of one evaluation call into a
// structured QuestionScore. It never fails: malformed input yields score 0,
// a diagnostic improvements entry, and ok=false so failed questions stay
// visible in the batch instead of silently disappearing. ok reports whether
// a score line was extracted.
func Parse(questionID, responseText string) (domain.QuestionScore, bool) {
	qs := domain.QuestionScore{
		QuestionID:  questionID,
		RawResponse: responseText,
	}

	m := scoreRe.FindStringSubmatch(responseText)
	if m == nil {
		qs.Improvements = []string{fmt.Sprintf("evaluation response could not be parsed: no SCORE line found (response length %d)", len(responseText))}
		return qs, false
	}
	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
		qs.Improvements = []string{fmt.Sprintf("evaluation response could not be parsed: invalid score %q", m[1])}
		return qs, false
	}
	qs.Score = clampScore(score)

	if sm := strengthsRe.FindStringSubmatch(responseText); sm != nil {
		if s := strings.TrimSpace(sm[1]); s != "" {
			qs.Strengths = []string{s}
		}
	}
	if im := improvementsRe.FindStringSubmatch(responseText); im != nil {
		if s := strings.TrimSpace(im[1]); s != "" {
			qs.Improvements = []string{s}
		}
	}
	return qs, true
}

// failedScore builds the zero-score entry recorded for a question whose
// evaluation call failed after all retries.
func failedScore(questionID, reason string) domain.QuestionScore {
	return domain.QuestionScore{
		QuestionID:   questionID,
		Score:        0,
		Improvements: []string{"evaluation failed: " + reason},
	}
}

func clampScore(s float64) float64 {
	return math.Max(0, math.Min(10, s))
}
