package healing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeScore(t *testing.T) {
	tests := []struct {
		name         string
		totalBugs    int
		bugsFixed    int
		testsPassed  bool
		attempts     int
		totalCommits int
		elapsed      time.Duration
		wantFinal    int
		wantBonus    int
		wantPenalty  int
	}{
		{
			name:         "perfect fast run caps at 100",
			totalBugs:    10,
			bugsFixed:    10,
			testsPassed:  true,
			attempts:     2,
			totalCommits: 3,
			elapsed:      120 * time.Second,
			wantFinal:    100,
			wantBonus:    10,
		},
		{
			name:         "partial slow run with commit penalty",
			totalBugs:    10,
			bugsFixed:    5,
			testsPassed:  false,
			attempts:     5,
			totalCommits: 25,
			elapsed:      400 * time.Second,
			wantFinal:    25,
			wantPenalty:  5,
		},
		{
			name:        "no bugs found contributes zero base",
			totalBugs:   0,
			bugsFixed:   0,
			testsPassed: true,
			attempts:    1,
			elapsed:     50 * time.Second,
			// 0 + 20 + 10 + 10
			wantFinal: 40,
			wantBonus: 10,
		},
		{
			name:        "three attempts earns the smaller bonus",
			totalBugs:   4,
			bugsFixed:   4,
			testsPassed: true,
			attempts:    3,
			elapsed:     500 * time.Second,
			// 60 + 20 + 5
			wantFinal: 85,
		},
		{
			name:         "penalty floors at zero",
			totalBugs:    1,
			bugsFixed:    0,
			testsPassed:  false,
			attempts:     5,
			totalCommits: 40,
			elapsed:      600 * time.Second,
			wantFinal:    0,
			wantPenalty:  20,
		},
		{
			name:        "ratio rounds to nearest",
			totalBugs:   3,
			bugsFixed:   1,
			testsPassed: false,
			attempts:    4,
			elapsed:     400 * time.Second,
			// round(1/3*60) = 20
			wantFinal: 20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeScore(tt.totalBugs, tt.bugsFixed, tt.testsPassed, tt.attempts, tt.totalCommits, tt.elapsed)

			assert.Equal(t, tt.wantFinal, got.FinalScore)
			assert.Equal(t, tt.wantBonus, got.SpeedBonus)
			assert.Equal(t, tt.wantPenalty, got.CommitPenalty)
			assert.Equal(t, tt.totalBugs, got.TotalBugs)
			assert.Equal(t, tt.bugsFixed, got.BugsFixed)
			assert.GreaterOrEqual(t, got.FinalScore, 0)
			assert.LessOrEqual(t, got.FinalScore, 100)
		})
	}
}

func TestComputeScore_ElapsedBoundary(t *testing.T) {
	under := ComputeScore(1, 1, true, 1, 0, 299*time.Second)
	assert.Equal(t, 10, under.SpeedBonus)

	exact := ComputeScore(1, 1, true, 1, 0, 300*time.Second)
	assert.Equal(t, 0, exact.SpeedBonus)
}
