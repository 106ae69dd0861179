package frontend

import (
	"net/http"
	"os"
	"path/filepath"
)

// Dir is the on-disk location of the page, relative to the module root.
const Dir = "internal/frontend/static"

// DirHandler serves the page from disk, looking in dir first and then in Dir
// below the working directory. It returns nil if neither exists.
func DirHandler(dir string) http.Handler {
	candidates := []string{dir}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, Dir))
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if st, err := os.Stat(c); err == nil && st.IsDir() {
			return http.FileServer(http.Dir(c))
		}
	}
	return nil
}
