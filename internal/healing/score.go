package healing

import (
	"math"
	"time"
)

const (
	// fixCompletionWeight is the maximum contribution of the fixed/total ratio.
	fixCompletionWeight = 60

	// testPassBonus rewards a run whose final test execution passed.
	testPassBonus = 20

	// fewAttemptsBonus and someAttemptsBonus reward efficient runs.
	fewAttemptsBonus  = 10
	someAttemptsBonus = 5

	// speedBonusWindow is the wall-clock threshold under which the speed
	// bonus applies.
	speedBonusWindow = 300 * time.Second

	// speedBonus is awarded for runs faster than speedBonusWindow.
	speedBonus = 10

	// commitPenaltyThreshold is the commit count above which each extra
	// commit costs one point.
	commitPenaltyThreshold = 20
)

// Score is the 0-100 composite metric for a finished session, rewarding fix
// completeness, test success, attempt efficiency, speed, and commit hygiene.
type Score struct {
	TotalBugs      int     `json:"total_bugs"`
	BugsFixed      int     `json:"bugs_fixed"`
	TestsPassed    bool    `json:"tests_passed"`
	Attempts       int     `json:"attempts"`
	TotalCommits   int     `json:"total_commits"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	SpeedBonus     int     `json:"speed_bonus"`
	CommitPenalty  int     `json:"commit_penalty"`
	FinalScore     int     `json:"final_score"`
}

// ComputeScore derives the session score. It is a pure function of its
// inputs; it never fails.
func ComputeScore(totalBugs, bugsFixed int, testsPassed bool, attempts, totalCommits int, elapsed time.Duration) Score {
	base := 0
	if totalBugs > 0 {
		base = int(math.Round(float64(bugsFixed) / float64(totalBugs) * fixCompletionWeight))
	}
	if testsPassed {
		base += testPassBonus
	}
	switch {
	case attempts <= 2:
		base += fewAttemptsBonus
	case attempts <= 3:
		base += someAttemptsBonus
	}

	bonus := 0
	if elapsed < speedBonusWindow {
		bonus = speedBonus
	}

	penalty := 0
	if totalCommits > commitPenaltyThreshold {
		penalty = totalCommits - commitPenaltyThreshold
	}

	final := base + bonus - penalty
	if final < 0 {
		final = 0
	}
	if final > 100 {
		final = 100
	}

	return Score{
		TotalBugs:      totalBugs,
		BugsFixed:      bugsFixed,
		TestsPassed:    testsPassed,
		Attempts:       attempts,
		TotalCommits:   totalCommits,
		ElapsedSeconds: elapsed.Seconds(),
		SpeedBonus:     bonus,
		CommitPenalty:  penalty,
		FinalScore:     final,
	}
}
