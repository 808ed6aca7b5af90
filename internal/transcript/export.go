package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	. "transcript-pipeline/internal/logging"
)

// Export writes text to <dir>/<input base name>.txt and returns the path.
// An existing file with that name is replaced.
func Export(dir, inputPath, text string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	path := filepath.Join(dir, OutputName(inputPath))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	L_info("transcript: exported", "path", path, "bytes", len(text))
	return path, nil
}

// OutputName returns the transcript file name for an input path.
func OutputName(inputPath string) string {
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "transcript"
	}
	return base + ".txt"
}
