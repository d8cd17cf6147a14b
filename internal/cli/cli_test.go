package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quenchlab/rig/internal/engine"
	"github.com/quenchlab/rig/internal/store"
	"github.com/quenchlab/rig/internal/testutil"
)

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitValidation, GetExitCode(NewExitError(ExitValidation, "bad runcard")))
	assert.Equal(t, ExitAlarmAbort, GetExitCode(WrapExitError(ExitAlarmAbort, "abort", errors.New("boom"))))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func TestRootCommand_RejectsUnknownFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "xml", "validate", "testdata/first.yaml"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand_ValidRuncard(t *testing.T) {
	out, err := execute(t, "validate", filepath.Join("testdata", "first.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "runcard is valid")
}

func TestValidateCommand_InvalidRuncard(t *testing.T) {
	out, err := execute(t, "validate", filepath.Join("testdata", "invalid.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitValidation, GetExitCode(err))
	assert.Contains(t, out, "E101")
	assert.Contains(t, out, "E105")
}

func TestValidateCommand_JSONOutput(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", filepath.Join("testdata", "invalid.yaml"))
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E101", resp.Error.Code)
}

func TestValidateCommand_MissingFile(t *testing.T) {
	_, err := execute(t, "validate", filepath.Join("testdata", "no-such.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitValidation, GetExitCode(err))
}

// newRunHarness builds RunOptions with a fake timebase and a throwaway
// database, plus a command shell for output capture.
func newRunHarness(t *testing.T) (*RunOptions, *cobra.Command, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		Database:    filepath.Join(dir, "runs.db"),
		PlotDir:     filepath.Join(dir, "plots"),
		Timebase:    testutil.NewFakeTime(),
	}

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(context.Background())
	return opts, cmd, &out
}

func TestRunCommand_ChainsFollowUp(t *testing.T) {
	opts, cmd, out := newRunHarness(t)

	err := runExperiment(opts, filepath.Join("testdata", "first.yaml"), cmd)
	require.NoError(t, err)

	// Both the first runcard and its follow-up completed.
	assert.Equal(t, 2, bytes.Count(out.Bytes(), []byte("completed after")))

	st, err := store.Open(opts.Database)
	require.NoError(t, err)
	defer st.Close()

	rows, err := st.Query(context.Background(), `SELECT outcome FROM runs ORDER BY started_at`)
	require.NoError(t, err)
	defer rows.Close()

	var outcomes []string
	for rows.Next() {
		var outcome string
		require.NoError(t, rows.Scan(&outcome))
		outcomes = append(outcomes, outcome)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{store.OutcomeCompleted, store.OutcomeCompleted}, outcomes)
}

func TestRunCommand_AlarmAbortExitCode(t *testing.T) {
	opts, cmd, _ := newRunHarness(t)

	err := runExperiment(opts, filepath.Join("testdata", "abort.yaml"), cmd)
	require.Error(t, err)
	assert.Equal(t, ExitAlarmAbort, GetExitCode(err))
	assert.True(t, engine.IsAlarmAbort(err))

	st, err := store.Open(opts.Database)
	require.NoError(t, err)
	defer st.Close()

	rows, err := st.Query(context.Background(), `SELECT outcome FROM runs`)
	require.NoError(t, err)
	defer rows.Close()

	require.True(t, rows.Next())
	var outcome string
	require.NoError(t, rows.Scan(&outcome))
	assert.Equal(t, store.OutcomeAborted, outcome)
}

func TestRunCommand_ValidationFailureExitCode(t *testing.T) {
	opts, cmd, _ := newRunHarness(t)

	err := runExperiment(opts, filepath.Join("testdata", "invalid.yaml"), cmd)
	require.Error(t, err)
	assert.Equal(t, ExitValidation, GetExitCode(err))
}

func TestClassify(t *testing.T) {
	outcome, err := classify(nil)
	assert.Equal(t, store.OutcomeCompleted, outcome)
	assert.NoError(t, err)

	outcome, err = classify(&engine.AlarmAbortError{Alarm: "a", Variable: "v"})
	assert.Equal(t, store.OutcomeAborted, outcome)
	assert.Equal(t, ExitAlarmAbort, GetExitCode(err))

	outcome, err = classify(&engine.IOAbortError{Attempts: 3, Err: errors.New("dead")})
	assert.Equal(t, store.OutcomeFailed, outcome)
	assert.Equal(t, ExitInstrumentIO, GetExitCode(err))

	outcome, err = classify(context.Canceled)
	assert.Equal(t, store.OutcomeStopped, outcome)
	assert.NoError(t, err)

	outcome, err = classify(errors.New("boom"))
	assert.Equal(t, store.OutcomeFailed, outcome)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
