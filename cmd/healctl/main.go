// Package main implements the healctl CLI for manual operations against the
// healerd HTTP server.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the healerd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "healctl",
	Short: "CLI for healerd healing sessions",
	Long: `healctl is a command-line interface for the healerd daemon.
It starts healing sessions, inspects their progress, and streams live events.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "healerd server URL")
	startCmd.Flags().StringVar(&startToken, "token", "", "git access token for private clones and pushes")
	startCmd.Flags().StringVar(&startUserID, "user", "", "user ID recorded on the session")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(healthCmd)
}

var (
	// startToken is the per-session git token flag
	startToken string
	// startUserID attributes the session to a user
	startUserID string
)

// startCmd starts a healing session for a repository
var startCmd = &cobra.Command{
	Use:   "start <repo-url>",
	Short: "Start a healing session for a repository",
	Long: `Start a healing session. The daemon clones the repository, runs its tests,
and iteratively fixes discovered bugs until the tests pass or the attempt
budget runs out.

Examples:
  # Heal a public repository
  healctl start https://github.com/acme/widgets

  # Heal a private repository with a token
  healctl start --token ghp_xxx https://github.com/acme/private

  # Use a different server
  healctl start --server http://localhost:9090 https://github.com/acme/widgets`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

// statusCmd shows the current state of a session
var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show the current state of a healing session",
	Long: `Show a healing session: status, attempt counts, discovered bugs, score,
and the pull request URL once one exists.

Examples:
  # Inspect a session
  healctl status 5f0c2a4e-...`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

// watchCmd streams session events until the session finishes
var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Stream live session events",
	Long: `Stream the session's server-sent events to stdout, one line per event,
until the session reaches a terminal state and the server closes the stream.

Examples:
  # Follow a running session
  healctl watch 5f0c2a4e-...`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check healerd server health",
	Long: `Check the health status of the healerd HTTP server.

Examples:
  # Check health
  healctl health

  # Check health on a different server
  healctl health --server http://localhost:9090`,
	RunE: runHealth,
}

// StartRequest matches internal/server/handlers.go createSessionRequest
type StartRequest struct {
	RepoURL string `json:"repo_url"`
	UserID  string `json:"user_id,omitempty"`
	Token   string `json:"token,omitempty"`
}

// StartResponse matches internal/server/handlers.go createSessionResponse
type StartResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// Session mirrors the healing.Session fields the CLI prints
type Session struct {
	ID             string     `json:"id"`
	RepoURL        string     `json:"repo_url"`
	Status         string     `json:"status"`
	CurrentAttempt int        `json:"current_attempt"`
	MaxAttempts    int        `json:"max_attempts"`
	Bugs           []Bug      `json:"bugs"`
	Score          *Score     `json:"score,omitempty"`
	Error          string     `json:"error,omitempty"`
	PRURL          string     `json:"pr_url,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Bug mirrors healing.Bug
type Bug struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	FilePath string `json:"file_path"`
	Line     int    `json:"line"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Fixed    bool   `json:"fixed"`
}

// Score mirrors healing.Score
type Score struct {
	TotalBugs     int  `json:"total_bugs"`
	BugsFixed     int  `json:"bugs_fixed"`
	TestsPassed   bool `json:"tests_passed"`
	SpeedBonus    int  `json:"speed_bonus"`
	CommitPenalty int  `json:"commit_penalty"`
	FinalScore    int  `json:"final_score"`
}

// HealthResponse matches internal/server/server.go HealthResponse
type HealthResponse struct {
	Status         string `json:"status"`
	SessionsActive int    `json:"sessions_active"`
}

// runStart handles the start command
func runStart(cmd *cobra.Command, args []string) error {
	reqBody := StartRequest{
		RepoURL: args[0],
		UserID:  startUserID,
		Token:   startToken,
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/sessions", serverURL)
	httpReq, err := http.NewRequest("POST", url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var startResp StartResponse
	if err := json.NewDecoder(resp.Body).Decode(&startResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Session started: %s\n", startResp.SessionID)
	fmt.Printf("Status:          %s\n", startResp.Status)
	fmt.Printf("\nFollow progress with:\n  healctl watch %s\n", startResp.SessionID)

	return nil
}

// runStatus handles the status command
func runStatus(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/api/v1/sessions/%s", serverURL, args[0])

	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var sess Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	printSession(os.Stdout, &sess)
	return nil
}

// printSession renders one session for the terminal
func printSession(w io.Writer, sess *Session) {
	fixed := 0
	for _, b := range sess.Bugs {
		if b.Fixed {
			fixed++
		}
	}

	fmt.Fprintf(w, "Session:    %s\n", sess.ID)
	fmt.Fprintf(w, "Repository: %s\n", sess.RepoURL)
	fmt.Fprintf(w, "Status:     %s\n", sess.Status)
	fmt.Fprintf(w, "Attempt:    %d/%d\n", sess.CurrentAttempt, sess.MaxAttempts)
	fmt.Fprintf(w, "Bugs:       %d found, %d fixed\n", len(sess.Bugs), fixed)

	for _, b := range sess.Bugs {
		mark := " "
		if b.Fixed {
			mark = "x"
		}
		fmt.Fprintf(w, "  [%s] %-8s %s:%d  %s\n", mark, b.Severity, b.FilePath, b.Line, b.Message)
	}

	if sess.Score != nil {
		fmt.Fprintf(w, "Score:      %d\n", sess.Score.FinalScore)
		fmt.Fprintf(w, "  Bugs fixed:     %d/%d\n", sess.Score.BugsFixed, sess.Score.TotalBugs)
		fmt.Fprintf(w, "  Tests passed:   %v\n", sess.Score.TestsPassed)
		fmt.Fprintf(w, "  Speed bonus:    +%d\n", sess.Score.SpeedBonus)
		fmt.Fprintf(w, "  Commit penalty: -%d\n", sess.Score.CommitPenalty)
	}
	if sess.PRURL != "" {
		fmt.Fprintf(w, "PR:         %s\n", sess.PRURL)
	}
	if sess.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", sess.Error)
	}
}

// runWatch handles the watch command
func runWatch(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/api/v1/sessions/%s/events", serverURL, args[0])

	httpReq, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	// No client timeout: the stream stays open until the session finishes
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := streamEvents(resp.Body, os.Stdout); err != nil {
		return fmt.Errorf("stream read failed: %w", err)
	}

	return nil
}

// streamEvents prints one line per SSE event until the stream closes.
// Comment frames (heartbeats) are skipped.
func streamEvents(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			fmt.Fprintf(w, "[%s] %s\n", event, strings.TrimPrefix(line, "data: "))
		}
	}
	return scanner.Err()
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/health", serverURL)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to %s: %v\n", url, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Server Status:   %s\n", healthResp.Status)
	fmt.Printf("Active Sessions: %d\n", healthResp.SessionsActive)
	fmt.Printf("Server URL:      %s\n", serverURL)

	return nil
}
