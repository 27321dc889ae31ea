package session

import (
	"github.com/tactile-data/handlink/internal/monitoring"
	"github.com/tactile-data/handlink/internal/trackconn"
	"github.com/tactile-data/handlink/internal/wire"
)

// deliverDirect invokes the callback sink on the pump goroutine. The sink
// reference is read under its lock but invoked outside it so a slow
// consumer cannot hold up Close's clear.
func (s *Session) deliverDirect(deliver func(CallbackInterface)) {
	cb := s.getCallback()
	if cb == nil {
		return
	}
	deliver(cb)
}

// scheduleGuarded posts deliver onto the dispatch queue. The task captures
// the session only through the registry token and re-resolves validity at
// execution time, so tasks scheduled before a Close silently no-op instead
// of touching a torn-down session.
func (s *Session) scheduleGuarded(deliver func(CallbackInterface)) {
	reg := s.registry
	s.queue.Enqueue(func() {
		if !reg.IsValid(s) {
			return
		}
		cb := s.getCallback()
		if cb == nil {
			return
		}
		deliver(cb)
	})
}

func (s *Session) handleConnectionEvent(ev *wire.ConnectionEvent) {
	s.connected.Store(true)
	s.deliverDirect(func(cb CallbackInterface) { cb.OnConnect() })
}

func (s *Session) handleConnectionLostEvent(ev *wire.ConnectionLostEvent) {
	s.connected.Store(false)
	s.cleanupLastDevice()
	s.deliverDirect(func(cb CallbackInterface) { cb.OnConnectionLost() })
}

// handleDeviceEvent opens the announced device, queries its properties with
// the two-phase serial size negotiation, caches them, and defers the
// OnDeviceFound delivery. The device handle is released on every path.
func (s *Session) handleDeviceEvent(conn trackconn.Conn, ev *wire.DeviceEvent) {
	handle, res := conn.OpenDevice(ev.Ref)
	if !res.OK() {
		monitoring.Logf("session: could not open device: %s", res)
		return
	}
	defer conn.CloseDevice(handle)

	// Query with a guessed serial buffer first; on InsufficientBuffer the
	// service has corrected SerialLength, so retry exactly once with a
	// right-sized buffer.
	info := wire.DeviceInfo{Serial: make([]byte, serialGuessLen)}
	res = conn.GetDeviceInfo(handle, &info)
	if res == wire.InsufficientBuffer {
		info.Serial = make([]byte, info.SerialLength)
		res = conn.GetDeviceInfo(handle, &info)
	}
	if !res.OK() {
		monitoring.Logf("session: failed to get device info: %s", res)
		return
	}

	s.setDevice(&info)

	// The deferred task gets its own deep copy; the query buffer above
	// stays owned by this handler and is never shared with the task.
	found := cloneDeviceInfo(&info)
	s.scheduleGuarded(func(cb CallbackInterface) { cb.OnDeviceFound(found) })
}

func (s *Session) handleDeviceLostEvent(ev *wire.DeviceEvent) {
	serial := s.cachedSerial()
	s.scheduleGuarded(func(cb CallbackInterface) { cb.OnDeviceLost(serial) })
}

func (s *Session) handleDeviceFailureEvent(ev *wire.DeviceFailureEvent) {
	status := ev.Status
	device := trackconn.DeviceHandle(ev.Device)
	s.scheduleGuarded(func(cb CallbackInterface) { cb.OnDeviceFailure(status, device) })
}

// handleTrackingEvent is the hot path: cache the frame for synchronous
// readers, then deliver on the pump goroutine without a queue hop.
func (s *Session) handleTrackingEvent(frame *wire.TrackingFrame) {
	s.setFrame(frame)
	s.deliverDirect(func(cb CallbackInterface) { cb.OnFrame(frame) })
}

// handleImageEvent delivers on the pump goroutine for the same latency
// reason as tracking frames.
func (s *Session) handleImageEvent(ev *wire.ImageEvent) {
	s.deliverDirect(func(cb CallbackInterface) { cb.OnImage(ev) })
}

func (s *Session) handleLogEvent(ev *wire.LogEvent) {
	severity, timestamp, message := ev.Severity, ev.Timestamp, ev.Message
	s.scheduleGuarded(func(cb CallbackInterface) { cb.OnLog(severity, timestamp, message) })
}

func (s *Session) handlePolicyEvent(ev *wire.PolicyEvent) {
	policy := ev.CurrentPolicy
	s.scheduleGuarded(func(cb CallbackInterface) { cb.OnPolicy(policy) })
}

func (s *Session) handleTrackingModeEvent(ev *wire.TrackingModeEvent) {
	mode := ev.CurrentMode
	s.scheduleGuarded(func(cb CallbackInterface) { cb.OnTrackingMode(mode) })
}

func (s *Session) handleConfigChangeEvent(ev *wire.ConfigChangeEvent) {
	id, status := ev.RequestID, ev.Status
	s.scheduleGuarded(func(cb CallbackInterface) { cb.OnConfigChange(id, status) })
}

func (s *Session) handleConfigResponseEvent(ev *wire.ConfigResponseEvent) {
	id, value := ev.RequestID, ev.Value
	s.scheduleGuarded(func(cb CallbackInterface) { cb.OnConfigResponse(id, value) })
}

// cloneDeviceInfo deep-copies info, including the serial buffer.
func cloneDeviceInfo(info *wire.DeviceInfo) *wire.DeviceInfo {
	out := *info
	out.Serial = make([]byte, len(info.Serial))
	copy(out.Serial, info.Serial)
	return &out
}
