package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CheckExisting returns an error listing the starter files already present in dir.
func CheckExisting(dir string) error {
	var existingFiles []string
	for _, t := range templates {
		if _, err := os.Stat(filepath.Join(dir, t.path)); err == nil {
			existingFiles = append(existingFiles, t.path)
		}
	}

	if len(existingFiles) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("project already initialized\n\nFound existing")
	if len(existingFiles) == 1 {
		fmt.Fprintf(&b, ": %s\n", existingFiles[0])
	} else {
		b.WriteString(" files:\n")
		for _, file := range existingFiles {
			fmt.Fprintf(&b, "  - %s\n", file)
		}
	}
	b.WriteString("\nUse 'nlbayes init --force' to reinitialize (this will overwrite existing files)")

	return fmt.Errorf("%s", b.String())
}
