package session

import (
	"github.com/tactile-data/handlink/internal/monitoring"
	"github.com/tactile-data/handlink/internal/trackconn"
	"github.com/tactile-data/handlink/internal/wire"
)

// serviceMessageLoop is the message pump. It polls the connection for the
// next event, bounded by pollTimeout, and dispatches each message to its
// handler. The loop exits only when the running flag clears; a single bad
// message never terminates it. The connection handle is taken as a
// parameter so a Close racing with the loop cannot swap it out from under
// a poll.
func (s *Session) serviceMessageLoop(conn trackconn.Conn, done chan struct{}) {
	defer close(done)
	monitoring.Logf("session: message pump started")

	for s.running.Load() {
		msg, res := conn.PollMessage(s.pollTimeout)

		// The poll may have blocked for the full timeout; re-check the
		// exit condition before doing anything with the result.
		if !s.running.Load() {
			break
		}

		if !res.OK() {
			// While disconnected (or once the connection has died) back
			// off briefly instead of spinning on an immediately-failing
			// poll. Transient failures while connected just retry.
			if !s.connected.Load() || res == wire.UnexpectedClosed {
				s.clock.Sleep(s.retrySleep)
			}
			continue
		}

		s.dispatchMessage(conn, msg)
	}

	monitoring.Logf("session: message pump stopped")
}

// dispatchMessage routes one polled message to its handler. Unknown types
// are discarded.
func (s *Session) dispatchMessage(conn trackconn.Conn, msg *wire.Message) {
	switch msg.Type {
	case wire.EventConnection:
		s.handleConnectionEvent(msg.Connection)
	case wire.EventConnectionLost:
		s.handleConnectionLostEvent(msg.ConnectionLost)
	case wire.EventDevice:
		s.handleDeviceEvent(conn, msg.Device)
	case wire.EventDeviceLost:
		s.handleDeviceLostEvent(msg.DeviceLost)
	case wire.EventDeviceFailure:
		s.handleDeviceFailureEvent(msg.DeviceFailure)
	case wire.EventTracking:
		s.handleTrackingEvent(msg.Tracking)
	case wire.EventImage:
		s.handleImageEvent(msg.Image)
	case wire.EventLog:
		s.handleLogEvent(msg.Log)
	case wire.EventPolicy:
		s.handlePolicyEvent(msg.Policy)
	case wire.EventTrackingMode:
		s.handleTrackingModeEvent(msg.TrackingMode)
	case wire.EventConfigChange:
		s.handleConfigChangeEvent(msg.ConfigChange)
	case wire.EventConfigResponse:
		s.handleConfigResponseEvent(msg.ConfigResponse)
	default:
		// discard unknown message types
	}
}
