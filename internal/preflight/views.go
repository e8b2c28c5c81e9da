package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/searchview/internal/store"
	"github.com/Aman-CERP/searchview/internal/view"
)

// CheckViews inspects every view directory under dataDir.
func (c *Checker) CheckViews(ctx context.Context, dataDir string) []CheckResult {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return []CheckResult{{
			Name:     "views",
			Status:   StatusFail,
			Message:  fmt.Sprintf("failed to list views: %v", err),
			Required: true,
		}}
	}

	var results []CheckResult
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(dataDir, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, view.PropertiesFileName)); err != nil {
			continue
		}
		results = append(results, c.CheckView(dir))
	}

	if len(results) == 0 {
		results = append(results, CheckResult{
			Name:    "views",
			Status:  StatusPass,
			Message: "no views yet",
		})
	}
	return results
}

// CheckView validates one view directory: its properties must load and
// validate, its store file must match the configured backend, and its
// lock should be free.
func (c *Checker) CheckView(dir string) CheckResult {
	result := CheckResult{
		Name:     "view " + filepath.Base(dir),
		Required: true,
	}

	props, err := view.LoadProperties(dir)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	if err := props.Validate(); err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}

	backend := props.Backend
	if backend == "" {
		backend = string(store.BackendSQLite)
	}
	result.Message = fmt.Sprintf("%s, %d collection(s)", backend, len(props.Collections))

	var warnings []string
	if props.StorePath != "" {
		base := props.StorePath
		if !filepath.IsAbs(base) {
			base = filepath.Join(dir, base)
		}
		if found := store.DetectBackend(base); found != "" && string(found) != backend {
			warnings = append(warnings, fmt.Sprintf("store file is %s but view.yaml says %s", found, backend))
		}
	}

	lock := store.NewFileLock(dir)
	acquired, err := lock.TryLock()
	switch {
	case err != nil:
		warnings = append(warnings, fmt.Sprintf("lock check failed: %v", err))
	case !acquired:
		warnings = append(warnings, "open by another process")
	default:
		_ = lock.Unlock()
	}

	if len(warnings) > 0 {
		result.Status = StatusWarn
		result.Details = strings.Join(warnings, "; ")
		result.Message += " (" + result.Details + ")"
		return result
	}

	result.Status = StatusPass
	return result
}
