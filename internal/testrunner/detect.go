package testrunner

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// DetectCommand inspects workspace marker files and returns the ecosystem's
// conventional test invocation. The boolean is false when no marker is found
// or, for npm packages, when no test script is declared.
func DetectCommand(workspacePath string) (Command, bool) {
	if hasTestScript(filepath.Join(workspacePath, "package.json")) {
		return Command{Name: "npm", Args: []string{"test", "--silent"}}, true
	}
	if fileExists(filepath.Join(workspacePath, "go.mod")) {
		return Command{Name: "go", Args: []string{"test", "./..."}}, true
	}
	for _, marker := range []string{"pytest.ini", "setup.py", "pyproject.toml"} {
		if fileExists(filepath.Join(workspacePath, marker)) {
			return Command{Name: "pytest", Args: []string{"-x", "-q"}}, true
		}
	}
	if fileExists(filepath.Join(workspacePath, "Cargo.toml")) {
		return Command{Name: "cargo", Args: []string{"test"}}, true
	}
	return Command{}, false
}

// hasTestScript reports whether a package.json declares a test script.
// npm's placeholder script ("no test specified") would always fail, so a
// package without scripts.test is treated as having no tests.
func hasTestScript(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return false
	}

	script, ok := pkg.Scripts["test"]
	return ok && script != ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
