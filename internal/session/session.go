package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tactile-data/handlink/internal/dispatch"
	"github.com/tactile-data/handlink/internal/monitoring"
	"github.com/tactile-data/handlink/internal/timeutil"
	"github.com/tactile-data/handlink/internal/trackconn"
	"github.com/tactile-data/handlink/internal/wire"
)

const (
	defaultPollTimeout = 200 * time.Millisecond
	defaultRetrySleep  = 100 * time.Millisecond
	defaultCloseWait   = 3 * time.Second

	// serialGuessLen is the initial serial buffer size for device info
	// queries. Current device serials all fit, but the query protocol
	// corrects us if that changes.
	serialGuessLen = 64
)

// Dialer opens a connection to the tracking service. The session calls it
// once per Open and owns the returned Conn until Close.
type Dialer func() (trackconn.Conn, error)

// Config assembles a Session. Dialer, Queue and Registry are required;
// zero durations take the defaults.
type Config struct {
	Dialer   Dialer
	Queue    *dispatch.Queue
	Registry *Registry

	// PollTimeout bounds each PollMessage call; shutdown latency is at
	// most one of these.
	PollTimeout time.Duration
	// RetrySleep is the pump's backoff while polling fails disconnected.
	RetrySleep time.Duration
	// CloseWait bounds how long Close waits for the pump to exit.
	CloseWait time.Duration

	// Clock defaults to the real clock; tests inject a mock to drive the
	// retry backoff and close wait.
	Clock timeutil.Clock
}

// Session owns one connection to the tracking service and the pump
// goroutine that services it. It caches the latest device info and tracking
// frame for synchronous readers and fans events out through the callback
// sink. A Session is reusable: Open after Close establishes a fresh
// connection and pump.
type Session struct {
	dialer      Dialer
	queue       *dispatch.Queue
	registry    *Registry
	pollTimeout time.Duration
	retrySleep  time.Duration
	closeWait   time.Duration
	clock       timeutil.Clock

	callbackMu sync.RWMutex
	callback   CallbackInterface

	connMu sync.RWMutex
	conn   trackconn.Conn

	running   atomic.Bool
	connected atomic.Bool

	stateMu  sync.Mutex
	open     bool
	pumpDone chan struct{}

	// dataMu guards the device/frame cache: all handler writes and all
	// external reads.
	dataMu      sync.Mutex
	deviceInfo  *wire.DeviceInfo
	latestFrame *wire.TrackingFrame

	// Interpolation state is owned by the Open/Close caller's context and
	// reused across calls; the buffer only grows.
	interpBuf   wire.Buffer
	interpSize  uint64
	interpFrame *wire.TrackingFrame
}

// New validates cfg and returns an unopened session.
func New(cfg Config) (*Session, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("session: Config.Dialer is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("session: Config.Queue is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("session: Config.Registry is required")
	}
	s := &Session{
		dialer:      cfg.Dialer,
		queue:       cfg.Queue,
		registry:    cfg.Registry,
		pollTimeout: cfg.PollTimeout,
		retrySleep:  cfg.RetrySleep,
		closeWait:   cfg.CloseWait,
		clock:       cfg.Clock,
	}
	if s.pollTimeout <= 0 {
		s.pollTimeout = defaultPollTimeout
	}
	if s.retrySleep <= 0 {
		s.retrySleep = defaultRetrySleep
	}
	if s.closeWait <= 0 {
		s.closeWait = defaultCloseWait
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	return s, nil
}

// Open connects to the service, registers the session as the live callback
// context, and starts the message pump. It fails without retrying when the
// dial fails. One pump goroutine is spawned per successful Open.
func (s *Session) Open(sink CallbackInterface) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.open {
		return errors.New("session: already open")
	}

	s.setCallback(sink)
	s.registry.Publish(s)

	conn, err := s.dialer()
	if err != nil {
		s.registry.Clear(s)
		s.setCallback(nil)
		return fmt.Errorf("session: open connection: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.running.Store(true)
	s.open = true
	s.pumpDone = make(chan struct{})
	go s.serviceMessageLoop(conn, s.pumpDone)
	return nil
}

// Close shuts the session down. It is idempotent. The pump is asked to
// stop cooperatively and waited for up to CloseWait; if it has not exited
// by then Close proceeds anyway and the connection close unblocks it. The
// callback reference is cleared last so no further deliveries start.
func (s *Session) Close() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if !s.open {
		return
	}
	s.open = false

	s.running.Store(false)
	s.connected.Store(false)
	s.cleanupLastDevice()

	select {
	case <-s.pumpDone:
	case <-s.clock.After(s.closeWait):
		monitoring.Logf("session: pump did not exit within %v, proceeding with close", s.closeWait)
	}

	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if conn != nil {
		if err := conn.Close(); err != nil {
			monitoring.Logf("session: closing connection: %v", err)
		}
	}

	s.registry.Clear(s)
	s.setCallback(nil)
	monitoring.Logf("session: connection closed")
}

// IsConnected reports whether the service has acknowledged the connection.
func (s *Session) IsConnected() bool { return s.connected.Load() }

// SetTrackingMode asks the service to switch tracking mode. Failures are
// logged and otherwise ignored; the effective mode comes back as a
// TrackingMode event.
func (s *Session) SetTrackingMode(mode wire.TrackingMode) {
	conn := s.currentConn()
	if conn == nil {
		monitoring.Logf("session: SetTrackingMode with no open connection")
		return
	}
	if res := conn.SetTrackingMode(mode); !res.OK() {
		monitoring.Logf("session: SetTrackingMode failed: %s", res)
	}
}

// SetPolicy sets and clears policy flag bits in one call. Failures are
// logged and otherwise ignored.
func (s *Session) SetPolicy(set, clear uint64) {
	conn := s.currentConn()
	if conn == nil {
		monitoring.Logf("session: SetPolicy with no open connection")
		return
	}
	if res := conn.SetPolicyFlags(set, clear); !res.OK() {
		monitoring.Logf("session: SetPolicyFlags failed: %s", res)
	}
}

// SetPolicyFlag enables or disables a single policy flag.
func (s *Session) SetPolicyFlag(flag wire.PolicyFlag, enabled bool) {
	if enabled {
		s.SetPolicy(uint64(flag), 0)
	} else {
		s.SetPolicy(0, uint64(flag))
	}
}

// RequestConfigValue asks the service for a config key. The value arrives
// later through OnConfigResponse with the returned request id.
func (s *Session) RequestConfigValue(key string) (uint32, wire.Result) {
	conn := s.currentConn()
	if conn == nil {
		return 0, wire.NotConnected
	}
	return conn.RequestConfigValue(key)
}

// GetFrame returns the latest cached tracking frame, or nil before the
// first tracking event. The frame is mutated in place by the next tracking
// event; callers needing stability must copy it.
func (s *Session) GetFrame() *wire.TrackingFrame {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	return s.latestFrame
}

// GetDeviceProperties returns the latest cached device info, or nil when no
// device is known. Same aliasing caveat as GetFrame.
func (s *Session) GetDeviceProperties() *wire.DeviceInfo {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	return s.deviceInfo
}

// GetInterpolatedFrameAtTime asks the service for a pose interpolated to
// timestamp. The receive buffer is session-owned and grows only when the
// service reports a size different from the previous call, so repeated
// queries at a steady frame size do not allocate. Returns the previously
// interpolated frame (possibly nil) when the query fails.
//
// Not safe for concurrent use with itself; call it from the consumer's
// main context.
func (s *Session) GetInterpolatedFrameAtTime(timestamp int64) *wire.TrackingFrame {
	conn := s.currentConn()
	if conn == nil {
		return s.interpFrame
	}

	size, res := conn.GetFrameSize(timestamp)
	if !res.OK() || size == 0 {
		return s.interpFrame
	}

	if size != s.interpSize {
		s.interpBuf.EnsureCapacity(int(size))
		s.interpSize = size
	}

	if res := conn.InterpolateFrame(timestamp, &s.interpBuf); !res.OK() {
		monitoring.Logf("session: InterpolateFrame failed: %s", res)
		return s.interpFrame
	}

	if s.interpFrame == nil {
		s.interpFrame = &wire.TrackingFrame{}
	}
	if err := wire.DecodeTrackingFrame(s.interpBuf.Bytes(), s.interpFrame); err != nil {
		monitoring.Logf("session: decoding interpolated frame: %v", err)
	}
	return s.interpFrame
}

func (s *Session) currentConn() trackconn.Conn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn
}

func (s *Session) setCallback(sink CallbackInterface) {
	s.callbackMu.Lock()
	s.callback = sink
	s.callbackMu.Unlock()
}

func (s *Session) getCallback() CallbackInterface {
	s.callbackMu.RLock()
	defer s.callbackMu.RUnlock()
	return s.callback
}

// setDevice replaces the cached device info wholesale, deep-copying the
// serial into a session-owned buffer that is reused when large enough.
func (s *Session) setDevice(info *wire.DeviceInfo) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	d := s.deviceInfo
	if d == nil {
		d = &wire.DeviceInfo{}
		s.deviceInfo = d
	}
	serial := d.Serial
	if cap(serial) < len(info.Serial) {
		serial = make([]byte, len(info.Serial))
	} else {
		serial = serial[:len(info.Serial)]
	}
	copy(serial, info.Serial)
	*d = *info
	d.Serial = serial
	d.SerialLength = uint32(len(serial))
}

// cleanupLastDevice forgets the cached device. Runs on ConnectionLost and
// during Close.
func (s *Session) cleanupLastDevice() {
	s.dataMu.Lock()
	s.deviceInfo = nil
	s.dataMu.Unlock()
}

// setFrame copies a tracking event into the session-owned cached frame,
// reusing the hand slice and growing it only when a frame carries more
// hands than any before it.
func (s *Session) setFrame(f *wire.TrackingFrame) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	if s.latestFrame == nil {
		s.latestFrame = &wire.TrackingFrame{}
	}
	lf := s.latestFrame
	lf.FrameID = f.FrameID
	lf.Timestamp = f.Timestamp
	lf.Framerate = f.Framerate
	if cap(lf.Hands) < len(f.Hands) {
		lf.Hands = make([]wire.Hand, len(f.Hands))
	} else {
		lf.Hands = lf.Hands[:len(f.Hands)]
	}
	copy(lf.Hands, f.Hands)
}

func (s *Session) cachedSerial() string {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	return s.deviceInfo.SerialString()
}
