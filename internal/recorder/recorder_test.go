package recorder

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tactile-data/handlink/internal/monitoring"
	"github.com/tactile-data/handlink/internal/wire"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func openTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "run.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestOpenStartsRun(t *testing.T) {
	t.Parallel()

	r := openTestRecorder(t)
	require.NotEmpty(t, r.RunID())

	var count int
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE run_id = ?`, r.RunID()).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestEventsPersisted(t *testing.T) {
	t.Parallel()

	r := openTestRecorder(t)
	r.OnConnect()
	r.OnDeviceFound(&wire.DeviceInfo{Serial: []byte("LP-REC-0001"), SerialLength: 11, PID: 7})
	r.OnDeviceLost("LP-REC-0001")
	r.OnLog(wire.LogSeverityWarning, 0, "low frame rate")
	r.OnPolicy(uint64(wire.PolicyImages))
	r.OnConnectionLost()

	rows, err := r.db.Query(`SELECT kind, detail FROM events WHERE run_id = ? ORDER BY rowid`, r.RunID())
	require.NoError(t, err)
	defer rows.Close()

	var kinds []string
	var details []string
	for rows.Next() {
		var kind, detail string
		require.NoError(t, rows.Scan(&kind, &detail))
		kinds = append(kinds, kind)
		details = append(details, detail)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, []string{"connect", "device_found", "device_lost", "log", "policy", "connection_lost"}, kinds)
	assert.Equal(t, "serial=LP-REC-0001 pid=7", details[1])
	assert.Equal(t, "[warning] low frame rate", details[3])
}

func TestFrameStrideDownsamples(t *testing.T) {
	t.Parallel()

	r := openTestRecorder(t)
	r.SetFrameStride(10)

	for i := 0; i < 25; i++ {
		r.OnFrame(&wire.TrackingFrame{FrameID: int64(i), Framerate: 90})
	}

	var count int
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(*) FROM frames WHERE run_id = ?`, r.RunID()).Scan(&count))
	assert.Equal(t, 3, count, "frames 0, 10 and 20")

	var first int64
	require.NoError(t, r.db.QueryRow(`SELECT MIN(frame_id) FROM frames WHERE run_id = ?`, r.RunID()).Scan(&first))
	assert.Equal(t, int64(0), first)
}

func TestRunsAreDistinct(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "shared.db")
	a, err := Open(path)
	require.NoError(t, err)
	a.OnConnect()
	require.NoError(t, a.Close())

	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()
	b.OnConnect()

	assert.NotEqual(t, a.RunID(), b.RunID())

	var count int
	require.NoError(t, b.db.QueryRow(`SELECT COUNT(*) FROM events WHERE run_id = ?`, b.RunID()).Scan(&count))
	assert.Equal(t, 1, count, "second run only sees its own events")
}
