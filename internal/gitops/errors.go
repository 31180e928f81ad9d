package gitops

import "fmt"

// RepositoryError wraps a failed git operation together with the underlying
// diagnostic so callers can surface the tool's own error text.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("git %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// InvalidURLError reports a repository URL that matches no recognized
// GitHub form. It is raised before any workspace is created.
type InvalidURLError struct {
	URL string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("unrecognized repository URL %q", e.URL)
}
