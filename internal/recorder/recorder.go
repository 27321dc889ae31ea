// Package recorder persists tracking bridge events to sqlite. It
// implements the session callback interface so it can be attached as the
// sink (or wrapped around another one) and is safe to call from both the
// pump goroutine and the dispatch queue. Inserts are best-effort: failures
// are logged and never propagate back into event delivery.
package recorder

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tactile-data/handlink/internal/monitoring"
	"github.com/tactile-data/handlink/internal/trackconn"
	"github.com/tactile-data/handlink/internal/wire"
)

// DefaultFrameStride records every 30th tracking frame. Full-rate capture
// at ~100Hz buys nothing for diagnostics and keeps the database small.
const DefaultFrameStride = 30

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	started_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS events (
	run_id       TEXT,
	kind         TEXT,
	detail       TEXT,
	timestamp    TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY(run_id) REFERENCES runs(run_id)
);
CREATE TABLE IF NOT EXISTS frames (
	run_id       TEXT,
	frame_id     BIGINT,
	service_time BIGINT,
	hand_count   INTEGER,
	framerate    DOUBLE,
	timestamp    TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY(run_id) REFERENCES runs(run_id)
);
`

// Recorder writes one run's events to a sqlite database.
type Recorder struct {
	db          *sql.DB
	runID       string
	frameStride int64
	frameCount  atomic.Int64
}

// Open creates (or opens) the database at path, applies the schema, and
// starts a new run tagged with a fresh id.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open recorder database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create recorder schema: %w", err)
	}

	r := &Recorder{
		db:          db,
		runID:       uuid.New().String(),
		frameStride: DefaultFrameStride,
	}
	if _, err := db.Exec(`INSERT INTO runs (run_id, started_at) VALUES (?, ?)`, r.runID, time.Now().UTC()); err != nil {
		db.Close()
		return nil, fmt.Errorf("record run start: %w", err)
	}
	monitoring.Logf("recorder: run %s started (%s)", r.runID, path)
	return r, nil
}

// RunID returns the id tagging this recording run.
func (r *Recorder) RunID() string { return r.runID }

// SetFrameStride records every nth tracking frame. n < 1 records all.
// Call it before attaching the recorder to a session.
func (r *Recorder) SetFrameStride(n int) {
	if n < 1 {
		n = 1
	}
	r.frameStride = int64(n)
}

// Close closes the database.
func (r *Recorder) Close() error { return r.db.Close() }

func (r *Recorder) record(kind, detail string) {
	if _, err := r.db.Exec(
		`INSERT INTO events (run_id, kind, detail) VALUES (?, ?, ?)`,
		r.runID, kind, detail,
	); err != nil {
		monitoring.Logf("recorder: failed to record %s event: %v", kind, err)
	}
}

// OnConnect implements session.CallbackInterface.
func (r *Recorder) OnConnect() { r.record("connect", "") }

// OnConnectionLost implements session.CallbackInterface.
func (r *Recorder) OnConnectionLost() { r.record("connection_lost", "") }

// OnDeviceFound implements session.CallbackInterface.
func (r *Recorder) OnDeviceFound(info *wire.DeviceInfo) {
	r.record("device_found", fmt.Sprintf("serial=%s pid=%d", info.SerialString(), info.PID))
}

// OnDeviceLost implements session.CallbackInterface.
func (r *Recorder) OnDeviceLost(serial string) {
	r.record("device_lost", "serial="+serial)
}

// OnDeviceFailure implements session.CallbackInterface.
func (r *Recorder) OnDeviceFailure(status wire.Result, device trackconn.DeviceHandle) {
	r.record("device_failure", fmt.Sprintf("status=%s device=%d", status, device))
}

// OnFrame implements session.CallbackInterface. Frames are downsampled by
// the configured stride.
func (r *Recorder) OnFrame(frame *wire.TrackingFrame) {
	n := r.frameCount.Add(1)
	if (n-1)%r.frameStride != 0 {
		return
	}
	if _, err := r.db.Exec(
		`INSERT INTO frames (run_id, frame_id, service_time, hand_count, framerate) VALUES (?, ?, ?, ?, ?)`,
		r.runID, frame.FrameID, frame.Timestamp, len(frame.Hands), frame.Framerate,
	); err != nil {
		monitoring.Logf("recorder: failed to record frame: %v", err)
	}
}

// OnImage implements session.CallbackInterface. Image payloads are not
// persisted, only their arrival.
func (r *Recorder) OnImage(img *wire.ImageEvent) {
	r.record("image", fmt.Sprintf("frame=%d %dx%d", img.FrameID, img.Width, img.Height))
}

// OnLog implements session.CallbackInterface.
func (r *Recorder) OnLog(severity wire.LogSeverity, timestamp int64, message string) {
	r.record("log", fmt.Sprintf("[%s] %s", severity, message))
}

// OnPolicy implements session.CallbackInterface.
func (r *Recorder) OnPolicy(currentPolicy uint64) {
	r.record("policy", fmt.Sprintf("flags=0x%x", currentPolicy))
}

// OnTrackingMode implements session.CallbackInterface.
func (r *Recorder) OnTrackingMode(mode wire.TrackingMode) {
	r.record("tracking_mode", fmt.Sprintf("mode=%d", mode))
}

// OnConfigChange implements session.CallbackInterface.
func (r *Recorder) OnConfigChange(requestID uint32, status bool) {
	r.record("config_change", fmt.Sprintf("request=%d ok=%t", requestID, status))
}

// OnConfigResponse implements session.CallbackInterface.
func (r *Recorder) OnConfigResponse(requestID uint32, value wire.ConfigValue) {
	r.record("config_response", fmt.Sprintf("request=%d type=%d", requestID, value.Type))
}
