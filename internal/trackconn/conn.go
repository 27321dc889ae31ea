// Package trackconn provides the client side of the tracking daemon's IPC
// protocol: dialing the service socket, sequenced request/reply calls, and a
// FIFO event queue polled by the session's message pump.
package trackconn

import (
	"time"

	"github.com/tactile-data/handlink/internal/wire"
)

// DeviceHandle references a device opened on the service side. It is only
// valid between OpenDevice and the matching CloseDevice.
type DeviceHandle uint32

// Conn is the connection surface consumed by the session core. The real
// implementation is Client; tests substitute fakes.
//
// PollMessage is single-consumer: events are delivered in the order the
// service produced them, and concurrent polls would race for that order.
// The remaining calls are safe from any goroutine.
type Conn interface {
	// PollMessage blocks up to timeout for the next service event. It
	// returns wire.Timeout when no event arrived in time and
	// wire.UnexpectedClosed once the connection has died.
	PollMessage(timeout time.Duration) (*wire.Message, wire.Result)

	OpenDevice(ref uint32) (DeviceHandle, wire.Result)
	CloseDevice(h DeviceHandle) wire.Result

	// GetDeviceInfo fills info using the caller's serial buffer. When the
	// buffer is too small the service reports the required length, which is
	// stored in info.SerialLength with the buffer left untouched, and
	// wire.InsufficientBuffer is returned so the caller can retry.
	GetDeviceInfo(h DeviceHandle, info *wire.DeviceInfo) wire.Result

	GetFrameSize(timestamp int64) (uint64, wire.Result)

	// InterpolateFrame writes an encoded tracking frame into buf, whose
	// capacity is advertised to the service. Returns
	// wire.InsufficientBuffer when the capacity did not suffice.
	InterpolateFrame(timestamp int64, buf *wire.Buffer) wire.Result

	SetPolicyFlags(set, clear uint64) wire.Result
	SetTrackingMode(mode wire.TrackingMode) wire.Result

	// RequestConfigValue asks for a config key. The value arrives later as
	// a ConfigResponse event carrying the returned request id.
	RequestConfigValue(key string) (uint32, wire.Result)

	Close() error
}
