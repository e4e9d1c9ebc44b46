package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// fakeSidecar scripts launch/poll/kill behavior per test.
type fakeSidecar struct {
	launchErr error
	state     *SidecarState
	pollErr   error

	launches int
	polls    int
	kills    int
}

func (f *fakeSidecar) Launch(_ context.Context, runID, _, _ string, _ models.RunBudget) (string, error) {
	f.launches++
	if f.launchErr != nil {
		return "", f.launchErr
	}
	return "sc-" + runID, nil
}

func (f *fakeSidecar) Poll(context.Context, string) (*SidecarState, error) {
	f.polls++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if f.state != nil {
		return f.state, nil
	}
	return &SidecarState{Status: models.RunRunning}, nil
}

func (f *fakeSidecar) Kill(context.Context, string) error {
	f.kills++
	return nil
}

func proCaller() *models.Caller {
	return &models.Caller{
		UserID: "alice", Tier: models.TierPro, Level: 2,
		Capabilities: map[models.Capability]bool{
			models.CapRead: true, models.CapWrite: true, models.CapCompute: true,
		},
		AuthMethod: models.AuthSession,
	}
}

func freeCaller() *models.Caller {
	return &models.Caller{
		UserID: "bob", Tier: models.TierFree, Level: 1,
		Capabilities: map[models.Capability]bool{models.CapRead: true},
		AuthMethod:   models.AuthSession,
	}
}

func newTestManager(t *testing.T, sc SidecarClient) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), sc, 6, nil)
	require.NoError(t, err)
	return m
}

func TestSandboxRequiresComputeTier(t *testing.T) {
	m := newTestManager(t, &fakeSidecar{})

	_, _, err := m.CreateWorkspace(freeCaller(), "w")
	assert.ErrorIs(t, err, ErrDisabled)

	guest := &models.Caller{UserID: "guest-1", Tier: models.TierFree, IsGuest: true}
	_, _, err = m.CreateWorkspace(guest, "w")
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = m.Run(context.Background(), freeCaller(), "ws", "main.py")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestWorkspaceCap(t *testing.T) {
	m := newTestManager(t, &fakeSidecar{})
	caller := proCaller()

	for i := 0; i < 5; i++ {
		_, created, err := m.CreateWorkspace(caller, fmt.Sprintf("w%d", i))
		require.NoError(t, err)
		assert.True(t, created)
	}
	_, _, err := m.CreateWorkspace(caller, "one-too-many")
	assert.ErrorIs(t, err, ErrLimit)
}

func TestWriteFileConfinedToWorkspace(t *testing.T) {
	m := newTestManager(t, &fakeSidecar{})
	caller := proCaller()
	ws, _, err := m.CreateWorkspace(caller, "w")
	require.NoError(t, err)

	require.NoError(t, m.WriteFile(caller, ws.ID, "main.py", []byte("print('hi')")))
	require.NoError(t, m.WriteFile(caller, ws.ID, "pkg/util.py", []byte("x = 1")))

	err = m.WriteFile(caller, ws.ID, "../../../etc/passwd", []byte("nope"))
	assert.Error(t, err)

	err = m.WriteFile(caller, "no-such-ws", "a.py", []byte("x"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteFileSizeBounds(t *testing.T) {
	m := newTestManager(t, &fakeSidecar{})
	caller := proCaller()
	ws, _, err := m.CreateWorkspace(caller, "w")
	require.NoError(t, err)

	big := make([]byte, maxFileBytes+1)
	assert.ErrorIs(t, m.WriteFile(caller, ws.ID, "big.bin", big), ErrLimit)
}

func TestRunLifecycle(t *testing.T) {
	exit := 0
	sc := &fakeSidecar{state: &SidecarState{
		Status: models.RunDone, ExitCode: &exit,
		Artifacts: []string{"out.txt"}, Logs: "done\n",
	}}
	m := newTestManager(t, sc)
	caller := proCaller()
	ws, _, err := m.CreateWorkspace(caller, "w")
	require.NoError(t, err)

	run, err := m.Run(context.Background(), caller, ws.ID, "main.py")
	require.NoError(t, err)
	assert.Equal(t, models.RunRunning, run.Status)
	assert.Equal(t, "sc-"+run.ID, run.SidecarID)
	assert.Equal(t, 1, m.InFlight(caller.UserID))

	got, err := m.GetRun(context.Background(), caller, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunDone, got.Status)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
	assert.Equal(t, []string{"out.txt"}, got.Artifacts)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, 0, m.InFlight(caller.UserID), "terminal run releases the slot")

	// Terminal runs are served from the record without repolling.
	polls := sc.polls
	_, err = m.GetRun(context.Background(), caller, run.ID)
	require.NoError(t, err)
	assert.Equal(t, polls, sc.polls)
}

func TestRunSidecarUnreachable(t *testing.T) {
	sc := &fakeSidecar{launchErr: errors.New("sidecar unreachable: connect refused")}
	m := newTestManager(t, sc)
	caller := proCaller()
	ws, _, err := m.CreateWorkspace(caller, "w")
	require.NoError(t, err)

	run, err := m.Run(context.Background(), caller, ws.ID, "main.py")
	assert.ErrorIs(t, err, ErrSidecar)
	require.NotNil(t, run)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Contains(t, run.Error, "unreachable")
	assert.Equal(t, 0, m.InFlight(caller.UserID), "failed launch releases the slot")
}

func TestRunConcurrencyLimit(t *testing.T) {
	m := newTestManager(t, &fakeSidecar{}) // polls report running
	caller := proCaller()
	ws, _, err := m.CreateWorkspace(caller, "w")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := m.Run(context.Background(), caller, ws.ID, "main.py")
		require.NoError(t, err)
	}
	_, err = m.Run(context.Background(), caller, ws.ID, "main.py")
	assert.ErrorIs(t, err, ErrLimit)
}

func TestRunThrottle(t *testing.T) {
	exit := 0
	sc := &fakeSidecar{state: &SidecarState{Status: models.RunDone, ExitCode: &exit}}
	m := newTestManager(t, sc)
	m.perMin = 2
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	caller := proCaller()
	ws, _, err := m.CreateWorkspace(caller, "w")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		run, err := m.Run(context.Background(), caller, ws.ID, "main.py")
		require.NoError(t, err)
		_, err = m.GetRun(context.Background(), caller, run.ID)
		require.NoError(t, err)
	}
	_, err = m.Run(context.Background(), caller, ws.ID, "main.py")
	assert.ErrorIs(t, err, ErrLimit)

	// A minute later the window has slid.
	m.now = func() time.Time { return base.Add(61 * time.Second) }
	_, err = m.Run(context.Background(), caller, ws.ID, "main.py")
	assert.NoError(t, err)
}

func TestKillRun(t *testing.T) {
	sc := &fakeSidecar{}
	m := newTestManager(t, sc)
	caller := proCaller()
	ws, _, err := m.CreateWorkspace(caller, "w")
	require.NoError(t, err)

	run, err := m.Run(context.Background(), caller, ws.ID, "main.py")
	require.NoError(t, err)

	require.NoError(t, m.Kill(context.Background(), caller, run.ID))
	assert.Equal(t, 1, sc.kills)

	got, err := m.GetRun(context.Background(), caller, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunKilled, got.Status)
	assert.Equal(t, 0, m.InFlight(caller.UserID))

	// Killing again is a no-op.
	require.NoError(t, m.Kill(context.Background(), caller, run.ID))
	assert.Equal(t, 1, sc.kills)
}

func TestArtifactPathConfined(t *testing.T) {
	m := newTestManager(t, &fakeSidecar{})
	caller := proCaller()
	ws, _, err := m.CreateWorkspace(caller, "w")
	require.NoError(t, err)
	run, err := m.Run(context.Background(), caller, ws.ID, "main.py")
	require.NoError(t, err)

	path, err := m.ArtifactPath(caller, run.ID, "out.txt")
	require.NoError(t, err)
	assert.True(t, strings.Contains(path, "artifacts"))

	_, err = m.ArtifactPath(caller, run.ID, "../run.json")
	assert.Error(t, err, "artifact fetch must not escape artifacts/")

	_, err = m.ArtifactPath(caller, run.ID, "../../../../etc/passwd")
	assert.Error(t, err)
}

func TestRunIsolationBetweenUsers(t *testing.T) {
	m := newTestManager(t, &fakeSidecar{})
	alice := proCaller()
	ws, _, err := m.CreateWorkspace(alice, "w")
	require.NoError(t, err)
	run, err := m.Run(context.Background(), alice, ws.ID, "main.py")
	require.NoError(t, err)

	mallory := proCaller()
	mallory.UserID = "mallory"
	_, err = m.GetRun(context.Background(), mallory, run.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.ArtifactPath(mallory, run.ID, "out.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}
