// Package redact scrubs secrets from test output and progress events before
// they leave the daemon.
//
// Detection uses the Gitleaks SDK's default ruleset (800+ patterns), merged
// with an optional user allowlist for known-benign fixtures. When redaction is
// disabled the scrubber passes content through untouched.
package redact

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"

	"github.com/fixpointlabs/healerd/internal/config"
)

// Scrubber detects and masks secrets in text.
type Scrubber struct {
	detector *detect.Detector
}

// New builds a Scrubber from config. When cfg.Enabled is false the returned
// Scrubber is a pass-through. The detector is built once; Gitleaks compiles
// hundreds of rules and must not be reconstructed per call.
func New(cfg config.RedactConfig) (*Scrubber, error) {
	if !cfg.Enabled {
		return &Scrubber{}, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}

	if cfg.AllowlistPath != "" {
		allowlist, err := loadAllowlist(cfg.AllowlistPath)
		if err != nil {
			return nil, fmt.Errorf("loading allowlist: %w", err)
		}
		if allowlist != nil {
			applyAllowlist(&detector.Config, allowlist)
		}
	}

	return &Scrubber{detector: detector}, nil
}

// Scrub replaces every detected secret in content with a
// [REDACTED:rule-id] marker. Replacement is by matched value, so a secret
// that appears multiple times is masked everywhere.
func (s *Scrubber) Scrub(content string) string {
	if s == nil || s.detector == nil || content == "" {
		return content
	}

	findings := s.detector.DetectString(content)
	if len(findings) == 0 {
		return content
	}

	// Longest secrets first so a short match never clobbers part of a
	// longer one.
	seen := make(map[string]string, len(findings))
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		seen[f.Secret] = f.RuleID
	}

	secrets := make([]string, 0, len(seen))
	for secret := range seen {
		secrets = append(secrets, secret)
	}
	sort.Slice(secrets, func(i, j int) bool {
		return len(secrets[i]) > len(secrets[j])
	})

	for _, secret := range secrets {
		marker := fmt.Sprintf("[REDACTED:%s]", seen[secret])
		content = strings.ReplaceAll(content, secret, marker)
	}

	return content
}

// Enabled reports whether the scrubber actually detects anything.
func (s *Scrubber) Enabled() bool {
	return s != nil && s.detector != nil
}

// applyAllowlist merges allowlist patterns into the Gitleaks config.
// Patterns are validated at load time; compilation cannot fail here.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	global := &gitleaksConfig.Allowlist{
		Description: "healerd user allowlist",
	}

	for _, pattern := range allowlist.Paths {
		re := regexp.MustCompile(pattern)
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(re))
	}

	for _, pattern := range allowlist.Regexes {
		re := regexp.MustCompile(pattern)
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}

	global.StopWords = append(global.StopWords, allowlist.Regexes...)

	cfg.Allowlists = append(cfg.Allowlists, global)
}
