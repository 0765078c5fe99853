package timeline

import (
	"fmt"
	"path/filepath"
)

// FormatOutputPath returns where the output of an iteration is written:
// <outputDir>/iteration-<NNN>-<taskID>.md. It does not touch the filesystem.
func FormatOutputPath(iteration int, taskID, outputDir string) string {
	return filepath.Join(outputDir, fmt.Sprintf("iteration-%03d-%s.md", iteration, taskID))
}
