package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// sourceFile is one discovered file, path relative to the workspace root
// with forward slashes.
type sourceFile struct {
	Path    string
	Content string
}

// discoverFiles walks the workspace collecting scannable sources: allowed
// extensions only, skip directories and dot-prefixed entries pruned, files
// over the byte cap dropped, the walk stopped at the total file cap.
// Unreadable entries are skipped silently; discovery itself never fails.
func (s *Scanner) discoverFiles(workspacePath string) []sourceFile {
	var files []sourceFile

	filepath.WalkDir(workspacePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		name := d.Name()

		if d.IsDir() {
			if path == workspacePath {
				return nil
			}
			if strings.HasPrefix(name, ".") {
				return fs.SkipDir
			}
			if _, skip := s.skipDirs[name]; skip {
				return fs.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, ".") {
			return nil
		}
		if _, ok := s.extensions[strings.ToLower(filepath.Ext(name))]; !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if s.cfg.MaxFileBytes > 0 && info.Size() > int64(s.cfg.MaxFileBytes) {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(workspacePath, path)
		if err != nil {
			return nil
		}

		files = append(files, sourceFile{
			Path:    filepath.ToSlash(rel),
			Content: string(content),
		})
		if s.cfg.MaxFiles > 0 && len(files) >= s.cfg.MaxFiles {
			return fs.SkipAll
		}
		return nil
	})

	return files
}
