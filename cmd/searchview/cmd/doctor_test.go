package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchview/internal/preflight"
	"github.com/Aman-CERP/searchview/internal/view"
)

func TestDoctor_ReportsViews(t *testing.T) {
	// Given: one view with documents
	testEnv(t)
	_, err := run(t, widgets, "ingest", "orders", "-c", "1", "--create")
	require.NoError(t, err)

	// When: running doctor as JSON
	out, err := run(t, "", "doctor", "--json")
	if err != nil {
		// Disk space depends on the machine; anything else is a bug.
		require.ErrorIs(t, err, errDoctorFailed)
	}

	// Then: the view check passes
	var report DoctorOutput
	require.NoError(t, json.NewDecoder(strings.NewReader(out)).Decode(&report), out)

	var found bool
	for _, c := range report.Checks {
		if c.Name == "view orders" {
			found = true
			assert.Equal(t, preflight.StatusPass, c.Status, c.Message)
			assert.Contains(t, c.Message, "1 collection(s)")
		}
	}
	assert.True(t, found, out)
	assert.Contains(t, out, `"status": "pass"`)
}

func TestDoctor_BrokenViewFails(t *testing.T) {
	// Given: a view whose properties no longer parse
	dataDir := testEnv(t)
	dir := filepath.Join(dataDir, "broken")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, view.PropertiesFileName), []byte("backend: cassandra\n"), 0o644))

	// When: running doctor
	out, err := run(t, "", "doctor")

	// Then: the command fails and names the view
	require.ErrorIs(t, err, errDoctorFailed)
	assert.Contains(t, out, "[FAIL] view broken")
	assert.Contains(t, out, "unknown store backend")
}
