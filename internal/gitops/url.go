package gitops

import (
	"regexp"
	"strings"
)

// Recognized GitHub repository URL shapes: https, scp-style ssh, ssh with
// an explicit scheme, and the bare owner/repo shorthand.
var repoURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://github\.com/([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+)$`),
	regexp.MustCompile(`^(?:ssh://)?git@github\.com[:/]([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+)$`),
	regexp.MustCompile(`^([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+)$`),
}

// ParseRepoURL extracts the owner and repository name from a GitHub URL.
// It returns an *InvalidURLError for anything it does not recognize.
func ParseRepoURL(rawURL string) (owner, repo string, err error) {
	s := strings.TrimSuffix(strings.TrimSpace(rawURL), "/")
	for _, re := range repoURLPatterns {
		m := re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		owner, repo = m[1], strings.TrimSuffix(m[2], ".git")
		if owner == "" || repo == "" || repo == "." || repo == ".." {
			break
		}
		return owner, repo, nil
	}
	return "", "", &InvalidURLError{URL: rawURL}
}
