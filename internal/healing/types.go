// Package healing defines the domain model for self-healing sessions:
// the session record, detected bugs, per-attempt logs, and the score
// computed when a run finishes.
package healing

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a healing session.
type Status string

const (
	// StatusQueued means the session is created but the loop has not started.
	StatusQueued Status = "queued"

	// StatusCloning means the workspace is being staged (clone + branch).
	StatusCloning Status = "cloning"

	// StatusScanning means the bug scanner is analyzing the repository.
	StatusScanning Status = "scanning"

	// StatusTesting means the test runner is executing the target's tests.
	StatusTesting Status = "testing"

	// StatusFixing means the fix engineer is rewriting affected files.
	StatusFixing Status = "fixing"

	// StatusPushing means changes are being committed and pushed.
	StatusPushing Status = "pushing"

	// StatusCompleted is terminal: the loop finished with passing tests.
	StatusCompleted Status = "completed"

	// StatusFailed is terminal: the loop aborted or exhausted its attempts
	// without a passing run.
	StatusFailed Status = "failed"
)

// IsTerminal reports whether the status ends the session lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether the status is one of the closed set.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusCloning, StatusScanning, StatusTesting,
		StatusFixing, StatusPushing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Category classifies a detected bug.
type Category string

const (
	CategorySyntax     Category = "SYNTAX"
	CategoryLinting    Category = "LINTING"
	CategoryRuntime    Category = "RUNTIME"
	CategoryLogic      Category = "LOGIC"
	CategoryImport     Category = "IMPORT"
	CategoryType       Category = "TYPE"
	CategoryDependency Category = "DEPENDENCY"
)

// Valid reports whether the category is one of the closed set.
func (c Category) Valid() bool {
	switch c {
	case CategorySyntax, CategoryLinting, CategoryRuntime, CategoryLogic,
		CategoryImport, CategoryType, CategoryDependency:
		return true
	}
	return false
}

// Severity ranks how serious a bug is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Valid reports whether the severity is one of the closed set.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// Bug is a located, categorized defect candidate, AI-reported or derived
// from a test failure. Bugs are never deleted within a session; the
// (FilePath, Line) pair is the dedup key across attempts.
type Bug struct {
	ID             string   `json:"id"`
	Category       Category `json:"category"`
	FilePath       string   `json:"file_path"`
	Line           int      `json:"line"`
	Message        string   `json:"message"`
	Severity       Severity `json:"severity"`
	Fixed          bool     `json:"fixed"`
	FixedAtAttempt *int     `json:"fixed_at_attempt,omitempty"`
}

// Key returns the dedup key for the bug's location.
func (b Bug) Key() BugKey {
	return BugKey{FilePath: b.FilePath, Line: b.Line}
}

// BugKey identifies a bug location within a session.
type BugKey struct {
	FilePath string
	Line     int
}

// TestFailure is a structured error location parsed from test output.
type TestFailure struct {
	FilePath string `json:"file_path"`
	Line     int    `json:"line"`
	Message  string `json:"message"`
	Type     string `json:"type"`
}

// AttemptStatus is the outcome of one loop iteration.
type AttemptStatus string

const (
	AttemptRunning AttemptStatus = "running"
	AttemptPassed  AttemptStatus = "passed"
	AttemptFailed  AttemptStatus = "failed"
)

// Attempt is the append-only log of one test→scan→fix→push iteration.
// An attempt is sealed when the iteration ends and never mutated afterward.
type Attempt struct {
	Number        int           `json:"number"`
	Status        AttemptStatus `json:"status"`
	TestOutput    string        `json:"test_output,omitempty"`
	BugsFound     int           `json:"bugs_found"`
	BugsFixed     int           `json:"bugs_fixed"`
	CommitSHA     string        `json:"commit_sha,omitempty"`
	CommitMessage string        `json:"commit_message,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	StartedAt     time.Time     `json:"started_at"`
}

// Session is one end-to-end healing run. It is owned exclusively by the
// orchestrator while running, persisted after every state transition, and
// frozen once finalization completes.
type Session struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id,omitempty"`
	RepoURL   string `json:"repo_url"`
	RepoOwner string `json:"repo_owner,omitempty"`
	RepoName  string `json:"repo_name,omitempty"`
	Branch    string `json:"branch,omitempty"`
	ForkOwner string `json:"fork_owner,omitempty"`

	Status         Status    `json:"status"`
	CurrentAttempt int       `json:"current_attempt"`
	MaxAttempts    int       `json:"max_attempts"`
	Bugs           []Bug     `json:"bugs"`
	Attempts       []Attempt `json:"attempts"`
	Score          *Score    `json:"score,omitempty"`

	Error    string `json:"error,omitempty"`
	PRURL    string `json:"pr_url,omitempty"`
	PRNumber int    `json:"pr_number,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewSession creates a queued session for the given repository.
func NewSession(repoURL, userID string, maxAttempts int) *Session {
	now := time.Now()
	return &Session{
		ID:          uuid.New().String(),
		UserID:      userID,
		RepoURL:     repoURL,
		Status:      StatusQueued,
		MaxAttempts: maxAttempts,
		Bugs:        []Bug{},
		Attempts:    []Attempt{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// BugsFixed counts bugs marked fixed.
func (s *Session) BugsFixed() int {
	n := 0
	for _, b := range s.Bugs {
		if b.Fixed {
			n++
		}
	}
	return n
}

// PendingBugs returns the bugs not yet marked fixed.
func (s *Session) PendingBugs() []Bug {
	pending := make([]Bug, 0, len(s.Bugs))
	for _, b := range s.Bugs {
		if !b.Fixed {
			pending = append(pending, b)
		}
	}
	return pending
}

// HasBug reports whether a bug at the given location is already recorded.
func (s *Session) HasBug(key BugKey) bool {
	for _, b := range s.Bugs {
		if b.Key() == key {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the session. Stores hand copies to readers
// so the orchestrator's working state is never aliased.
func (s *Session) Clone() *Session {
	dup := *s
	dup.Bugs = make([]Bug, len(s.Bugs))
	copy(dup.Bugs, s.Bugs)
	for i, b := range s.Bugs {
		if b.FixedAtAttempt != nil {
			at := *b.FixedAtAttempt
			dup.Bugs[i].FixedAtAttempt = &at
		}
	}
	dup.Attempts = make([]Attempt, len(s.Attempts))
	copy(dup.Attempts, s.Attempts)
	if s.Score != nil {
		sc := *s.Score
		dup.Score = &sc
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		dup.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		dup.CompletedAt = &t
	}
	return &dup
}
