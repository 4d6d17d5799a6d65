// Package gate decides whether a lesson's completion preconditions are met.
// Nothing here holds state: gates are recomputed from the inputs on every call.
package gate

import (
	"fmt"
	"strings"
)

// AssessmentStatus is the learner's latest standing on the lesson assessment.
type AssessmentStatus string

const (
	AssessmentNotStarted AssessmentStatus = "not_started"
	AssessmentInProgress AssessmentStatus = "in_progress"
	AssessmentFailed     AssessmentStatus = "failed"
	AssessmentPassed     AssessmentStatus = "passed"
)

// Valid reports whether s is a known status.
func (s AssessmentStatus) Valid() bool {
	switch s {
	case AssessmentNotStarted, AssessmentInProgress, AssessmentFailed, AssessmentPassed:
		return true
	}
	return false
}

// Requirements is a read-only snapshot of what a lesson asks of the learner.
type Requirements struct {
	HasVideo              bool             `json:"hasVideo"`
	RequiredWatchPercent  float64          `json:"requiredWatchPercent"`
	HasTactics            bool             `json:"hasTactics"`
	TacticsRequiredCount  int              `json:"tacticsRequiredCount"`
	TacticsCompletedCount int              `json:"tacticsCompletedCount"`
	HasAssessment         bool             `json:"hasAssessment"`
	AssessmentRequired    bool             `json:"assessmentRequired"`
	AssessmentStatus      AssessmentStatus `json:"assessmentStatus"`
	PassingScore          int              `json:"passingScore"`
}

// Gates is derived on every read and never stored.
type Gates struct {
	Video      bool `json:"video"`
	Tactics    bool `json:"tactics"`
	Assessment bool `json:"assessment"`
	All        bool `json:"all"`
}

// Evaluate computes the gates for req at watchedPercent. A lesson with no
// active requirement is completable.
func Evaluate(req Requirements, watchedPercent float64) Gates {
	g := Gates{
		Video:      !req.HasVideo || watchedPercent >= req.RequiredWatchPercent,
		Tactics:    !req.HasTactics || req.TacticsRequiredCount == 0 || req.TacticsCompletedCount >= req.TacticsRequiredCount,
		Assessment: !req.HasAssessment || !req.AssessmentRequired || req.AssessmentStatus == AssessmentPassed,
	}
	g.All = g.Video && g.Tactics && g.Assessment
	return g
}

// Reason names one unmet gate.
type Reason string

const (
	ReasonVideo      Reason = "video"
	ReasonTactics    Reason = "tactics"
	ReasonAssessment Reason = "assessment"
)

// Blocking lists the unmet gates in the order video, tactics, assessment.
func Blocking(g Gates) []Reason {
	var reasons []Reason
	if !g.Video {
		reasons = append(reasons, ReasonVideo)
	}
	if !g.Tactics {
		reasons = append(reasons, ReasonTactics)
	}
	if !g.Assessment {
		reasons = append(reasons, ReasonAssessment)
	}
	return reasons
}

// Phrase is the learner-facing wording of a reason. The numbers come from req
// for display only; which reasons apply is decided by Blocking.
func (r Reason) Phrase(req Requirements) string {
	switch r {
	case ReasonVideo:
		return fmt.Sprintf("watch at least %s%% of the video", formatPercent(req.RequiredWatchPercent))
	case ReasonTactics:
		remaining := req.TacticsRequiredCount - req.TacticsCompletedCount
		if remaining == 1 {
			return "complete 1 more tactic"
		}
		return fmt.Sprintf("complete %d more tactics", remaining)
	case ReasonAssessment:
		return "pass the assessment"
	default:
		return string(r)
	}
}

// BlockingMessage explains what is left to do, or returns "" when every gate
// is met.
func BlockingMessage(req Requirements, g Gates) string {
	reasons := Blocking(g)
	if len(reasons) == 0 {
		return ""
	}
	phrases := make([]string, len(reasons))
	for i, r := range reasons {
		phrases[i] = r.Phrase(req)
	}
	return "To complete this lesson, " + JoinConjunction(phrases) + "."
}

// JoinConjunction joins items as "a", "a and b", "a, b and c".
func JoinConjunction(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}

func formatPercent(p float64) string {
	s := fmt.Sprintf("%.1f", p)
	return strings.TrimSuffix(s, ".0")
}
