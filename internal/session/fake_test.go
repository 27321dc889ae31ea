package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tactile-data/handlink/internal/trackconn"
	"github.com/tactile-data/handlink/internal/wire"
)

// fakeConn scripts the connection for session tests. Events pushed with
// push are handed out by PollMessage in order; every control call is
// counted so tests can assert on the session's protocol behaviour.
type fakeConn struct {
	events   chan *wire.Message
	closedCh chan struct{}
	once     sync.Once

	pollCalls  atomic.Int64
	closeCalls atomic.Int64
	// pollErr, when non-zero, makes PollMessage fail immediately with the
	// stored result instead of blocking. Simulates a connection that fails
	// fast while disconnected.
	pollErr atomic.Uint32

	openDeviceCalls  atomic.Int64
	closeDeviceCalls atomic.Int64
	openDeviceResult atomic.Uint32 // wire.Result; zero is Success
	infoResult       atomic.Uint32 // forced GetDeviceInfo result; zero negotiates

	mu         sync.Mutex
	serial     []byte
	serialCaps []uint32 // observed SerialCap per GetDeviceInfo call

	frameEncoded []byte
	interpFirst  []*byte // first backing byte per InterpolateFrame call

	configID atomic.Uint32
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events:   make(chan *wire.Message, 64),
		closedCh: make(chan struct{}),
		serial:   []byte("LP-FAKE-0001"),
	}
}

func (f *fakeConn) push(m *wire.Message) { f.events <- m }

func (f *fakeConn) pending() int { return len(f.events) }

func (f *fakeConn) setFrame(frame *wire.TrackingFrame) {
	f.mu.Lock()
	f.frameEncoded = wire.EncodeTrackingFrame(nil, frame)
	f.mu.Unlock()
}

func (f *fakeConn) PollMessage(timeout time.Duration) (*wire.Message, wire.Result) {
	f.pollCalls.Add(1)
	if r := f.pollErr.Load(); r != 0 {
		return nil, wire.Result(r)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-f.events:
		return m, wire.Success
	case <-timer.C:
		return nil, wire.Timeout
	case <-f.closedCh:
		return nil, wire.UnexpectedClosed
	}
}

func (f *fakeConn) OpenDevice(ref uint32) (trackconn.DeviceHandle, wire.Result) {
	f.openDeviceCalls.Add(1)
	if r := f.openDeviceResult.Load(); r != 0 {
		return 0, wire.Result(r)
	}
	return 7, wire.Success
}

func (f *fakeConn) CloseDevice(h trackconn.DeviceHandle) wire.Result {
	f.closeDeviceCalls.Add(1)
	return wire.Success
}

func (f *fakeConn) GetDeviceInfo(h trackconn.DeviceHandle, info *wire.DeviceInfo) wire.Result {
	f.mu.Lock()
	f.serialCaps = append(f.serialCaps, uint32(cap(info.Serial)))
	serial := f.serial
	f.mu.Unlock()

	if r := f.infoResult.Load(); r != 0 {
		return wire.Result(r)
	}
	if cap(info.Serial) < len(serial) {
		info.SerialLength = uint32(len(serial))
		return wire.InsufficientBuffer
	}
	info.Serial = info.Serial[:len(serial)]
	copy(info.Serial, serial)
	info.SerialLength = uint32(len(serial))
	info.PID = 0x1201
	return wire.Success
}

func (f *fakeConn) GetFrameSize(timestamp int64) (uint64, wire.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.frameEncoded)), wire.Success
}

func (f *fakeConn) InterpolateFrame(timestamp int64, buf *wire.Buffer) wire.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if buf.Cap() < len(f.frameEncoded) {
		return wire.InsufficientBuffer
	}
	buf.SetLen(len(f.frameEncoded))
	copy(buf.Bytes(), f.frameEncoded)
	f.interpFirst = append(f.interpFirst, &buf.Raw()[0])
	return wire.Success
}

func (f *fakeConn) SetPolicyFlags(set, clear uint64) wire.Result { return wire.Success }

func (f *fakeConn) SetTrackingMode(mode wire.TrackingMode) wire.Result { return wire.Success }

func (f *fakeConn) RequestConfigValue(key string) (uint32, wire.Result) {
	return f.configID.Add(1), wire.Success
}

func (f *fakeConn) Close() error {
	f.closeCalls.Add(1)
	f.once.Do(func() { close(f.closedCh) })
	return nil
}

func (f *fakeConn) interpPointers() []*byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*byte(nil), f.interpFirst...)
}

func (f *fakeConn) observedSerialCaps() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.serialCaps...)
}

// recordingSink counts callback deliveries.
type recordingSink struct {
	mu              sync.Mutex
	connects        int
	disconnects     int
	frames          int
	lastFrameID     int64
	images          int
	deviceFound     []string
	deviceLost      []string
	deviceFailures  int
	logs            []string
	policies        []uint64
	modes           []wire.TrackingMode
	configChanges   int
	configResponses int
}

func (r *recordingSink) OnConnect() {
	r.mu.Lock()
	r.connects++
	r.mu.Unlock()
}

func (r *recordingSink) OnConnectionLost() {
	r.mu.Lock()
	r.disconnects++
	r.mu.Unlock()
}

func (r *recordingSink) OnDeviceFound(info *wire.DeviceInfo) {
	r.mu.Lock()
	r.deviceFound = append(r.deviceFound, info.SerialString())
	r.mu.Unlock()
}

func (r *recordingSink) OnDeviceLost(serial string) {
	r.mu.Lock()
	r.deviceLost = append(r.deviceLost, serial)
	r.mu.Unlock()
}

func (r *recordingSink) OnDeviceFailure(status wire.Result, device trackconn.DeviceHandle) {
	r.mu.Lock()
	r.deviceFailures++
	r.mu.Unlock()
}

func (r *recordingSink) OnFrame(frame *wire.TrackingFrame) {
	r.mu.Lock()
	r.frames++
	r.lastFrameID = frame.FrameID
	r.mu.Unlock()
}

func (r *recordingSink) OnImage(img *wire.ImageEvent) {
	r.mu.Lock()
	r.images++
	r.mu.Unlock()
}

func (r *recordingSink) OnLog(severity wire.LogSeverity, timestamp int64, message string) {
	r.mu.Lock()
	r.logs = append(r.logs, message)
	r.mu.Unlock()
}

func (r *recordingSink) OnPolicy(currentPolicy uint64) {
	r.mu.Lock()
	r.policies = append(r.policies, currentPolicy)
	r.mu.Unlock()
}

func (r *recordingSink) OnTrackingMode(mode wire.TrackingMode) {
	r.mu.Lock()
	r.modes = append(r.modes, mode)
	r.mu.Unlock()
}

func (r *recordingSink) OnConfigChange(requestID uint32, status bool) {
	r.mu.Lock()
	r.configChanges++
	r.mu.Unlock()
}

func (r *recordingSink) OnConfigResponse(requestID uint32, value wire.ConfigValue) {
	r.mu.Lock()
	r.configResponses++
	r.mu.Unlock()
}

// sinkCounts is a lock-free copy of a recordingSink's state.
type sinkCounts struct {
	connects        int
	disconnects     int
	frames          int
	lastFrameID     int64
	images          int
	deviceFound     []string
	deviceLost      []string
	deviceFailures  int
	logs            []string
	policies        []uint64
	modes           []wire.TrackingMode
	configChanges   int
	configResponses int
}

func (r *recordingSink) snapshot() sinkCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sinkCounts{
		connects:        r.connects,
		disconnects:     r.disconnects,
		frames:          r.frames,
		lastFrameID:     r.lastFrameID,
		images:          r.images,
		deviceFound:     append([]string(nil), r.deviceFound...),
		deviceLost:      append([]string(nil), r.deviceLost...),
		deviceFailures:  r.deviceFailures,
		logs:            append([]string(nil), r.logs...),
		policies:        append([]uint64(nil), r.policies...),
		modes:           append([]wire.TrackingMode(nil), r.modes...),
		configChanges:   r.configChanges,
		configResponses: r.configResponses,
	}
}
