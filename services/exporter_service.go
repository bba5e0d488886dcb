package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"qa-agent/models"
)

// ExporterService writes review artifacts to the local export directory:
// test-case batches as JSON and generated scripts as .py files.
type ExporterService struct {
	ExportDir string // The absolute path to the export directory
}

func NewExporterService(exportDir string) (*ExporterService, error) {
	if exportDir == "" {
		return nil, fmt.Errorf("export directory not set")
	}
	absPath, err := filepath.Abs(exportDir)
	if err != nil {
		return nil, fmt.Errorf("could not determine absolute path for export directory: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("could not create export directory: %w", err)
	}
	return &ExporterService{ExportDir: absPath}, nil
}

// sanitizeFilename ensures the filename is safe and within the export directory.
func (ex *ExporterService) sanitizeFilename(filename, wantExt string) (string, error) {
	if !strings.HasSuffix(filename, wantExt) {
		return "", fmt.Errorf("filename must end with %s", wantExt)
	}
	// This prevents path traversal attacks (e.g., filename = "../../../etc/passwd")
	cleanPath := filepath.Join(ex.ExportDir, filepath.Base(filename))
	if !strings.HasPrefix(cleanPath, ex.ExportDir) {
		return "", fmt.Errorf("invalid filename, attempts to escape export directory")
	}
	return cleanPath, nil
}

// ExportTestCases writes the batch as pretty-printed JSON. An empty filename
// falls back to test_cases.json.
func (ex *ExporterService) ExportTestCases(cases []models.TestCase, filename string) (string, error) {
	if len(cases) == 0 {
		return "", fmt.Errorf("no test cases to export")
	}
	if filename == "" {
		filename = "test_cases.json"
	}
	path, err := ex.sanitizeFilename(filename, ".json")
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(cases, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode test cases: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write file '%s': %w", filename, err)
	}
	return path, nil
}

// ExportScript writes one generated script as a Python file named after its
// test id (TC-001 becomes test_tc_001.py).
func (ex *ExporterService) ExportScript(script models.GeneratedScript) (string, error) {
	if strings.TrimSpace(script.Body) == "" {
		return "", fmt.Errorf("script body is empty")
	}
	path, err := ex.sanitizeFilename(ScriptFileName(script.TestID), ".py")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(script.Body), 0644); err != nil {
		return "", fmt.Errorf("failed to write file '%s': %w", filepath.Base(path), err)
	}
	return path, nil
}

var unsafeFileChars = regexp.MustCompile(`[^a-z0-9_]+`)

// ScriptFileName derives a filesystem-safe script name from a test id.
func ScriptFileName(testID string) string {
	name := strings.ToLower(strings.TrimSpace(testID))
	name = unsafeFileChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "case"
	}
	return "test_" + name + ".py"
}
