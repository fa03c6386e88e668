package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig points the store at a fresh SQLite file and makes the engine
// run without sleeping.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "alife.yaml")
	body := `
store:
  driver: sqlite
  path: ` + filepath.Join(dir, "data", "alife.db") + `
autosave:
  interval_ticks: 10
  max_auto_saves: 3
  slot_prefix: auto
engine:
  interval: 0s
  history_capacity: 16
world:
  width: 16
  height: 16
  agents: 6
  resources: 20
log:
  level: error
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"run"}, {"saves", "list"}, {"saves", "show"}, {"saves", "delete"},
		{"autosave", "show"}, {"autosave", "set"}, {"autosave", "clear"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "%v", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "saves", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunThenManageSaves(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "--config", cfg, "run", "--ticks", "25")
	require.NoError(t, err)
	assert.Contains(t, out, "Stopped at tick 25")

	// Ticks 10 and 20 plus the final save at 25.
	out, err = execute(t, "--config", cfg, "--format", "json", "saves", "list", "--auto")
	require.NoError(t, err)
	var list []summaryOut
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 3)
	assert.Equal(t, uint64(25), list[0].Tick)
	assert.Equal(t, "auto_2", list[0].Slot)
	assert.True(t, list[0].AutoSave)

	out, err = execute(t, "--config", cfg, "saves", "show", "auto_2")
	require.NoError(t, err)
	assert.Contains(t, out, "Auto-save @ tick 25")
	assert.Contains(t, out, "16x16")

	out, err = execute(t, "--config", cfg, "saves", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "SLOT")
	assert.Contains(t, out, "auto_0")

	// Resuming continues the tick count.
	out, err = execute(t, "--config", cfg, "run", "--resume", "--ticks", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Resuming from tick 25")
	assert.Contains(t, out, "Stopped at tick 30")

	_, err = execute(t, "--config", cfg, "saves", "delete", "auto_0")
	require.NoError(t, err)
	_, err = execute(t, "--config", cfg, "saves", "delete", "auto_0")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = execute(t, "--config", cfg, "saves", "show", "nope")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = execute(t, "--config", cfg, "run", "--from", "nope", "--ticks", "1")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = execute(t, "--config", cfg, "run", "--from", "x", "--resume")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestAutoSaveSetShowClear(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "--config", cfg, "--format", "json", "autosave", "show")
	require.NoError(t, err)
	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, 10.0, shown["interval_ticks"], "configured values when nothing is stored")

	_, err = execute(t, "--config", cfg, "autosave", "set", "--interval", "4", "--max", "2")
	require.NoError(t, err)

	out, err = execute(t, "--config", cfg, "--format", "json", "autosave", "show")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, 4.0, shown["interval_ticks"])
	assert.Equal(t, 2.0, shown["max_auto_saves"])
	assert.Equal(t, "auto", shown["slot_prefix"])

	_, err = execute(t, "--config", cfg, "autosave", "set", "--max", "0")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	// The stored schedule wins over the file: saves at 4 and 8, then the final one.
	_, err = execute(t, "--config", cfg, "run", "--ticks", "9")
	require.NoError(t, err)
	out, err = execute(t, "--config", cfg, "--format", "json", "autosave", "show")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, 2.0, shown["auto_saves"])
	assert.Equal(t, 9.0, shown["last_auto_save_tick"])

	out, err = execute(t, "--config", cfg, "autosave", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 2 auto-saves")
}
