// Package report keeps a JSON lines ledger of pipeline runs.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

type Run struct {
	RunID            string           `json:"run_id"`
	ModelID          string           `json:"model_id"`
	Revision         string           `json:"revision"`
	Scheme           string           `json:"scheme"`
	OutType          string           `json:"outtype"`
	Status           string           `json:"status"`
	FailedStage      string           `json:"failed_stage,omitempty"`
	Error            string           `json:"error,omitempty"`
	ExitCode         int              `json:"exit_code"`
	IntermediatePath string           `json:"intermediate_path"`
	OutputPath       string           `json:"output_path"`
	Transitions      []string         `json:"transitions"`
	StageMillis      map[string]int64 `json:"stage_ms"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
	DurationMillis   int64            `json:"duration_ms"`
}

// Append writes run as one line at the end of the ledger at path.
func Append(path string, run *Run) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer file.Close()

	line, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := fmt.Fprintln(file, string(line)); err != nil {
		return fmt.Errorf("failed to write to ledger: %w", err)
	}

	return nil
}

// Read returns the runs in the ledger, oldest first. A missing ledger is
// empty.
func Read(path string) ([]Run, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer file.Close()

	var runs []Run
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var run Run
		if err := json.Unmarshal([]byte(line), &run); err != nil {
			return nil, fmt.Errorf("ledger line %d: %w", lineNo, err)
		}
		runs = append(runs, run)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading ledger: %w", err)
	}

	return runs, nil
}

// Filter keeps runs matching modelID and status (empty matches all), newest
// first, at most limit entries when limit > 0.
func Filter(runs []Run, modelID, status string, limit int) []Run {
	var out []Run
	for i := len(runs) - 1; i >= 0; i-- {
		r := runs[i]
		if modelID != "" && r.ModelID != modelID {
			continue
		}
		if status != "" && !strings.EqualFold(r.Status, status) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
