// Package session is the core of the tracking bridge: it owns the service
// connection, runs the message pump goroutine that polls for events, and
// demultiplexes them into a consumer-supplied callback sink. High-frequency
// events (tracking frames, images) are delivered directly on the pump
// goroutine; everything else is deferred onto the dispatch queue and guarded
// against session teardown by the validity registry.
package session

import (
	"github.com/tactile-data/handlink/internal/trackconn"
	"github.com/tactile-data/handlink/internal/wire"
)

// CallbackInterface is the boundary the session hands events to. The sink
// is never owned by the session and may be cleared at any time.
//
// OnConnect, OnConnectionLost, OnFrame and OnImage run on the pump
// goroutine (the hot path skips the dispatch queue); the remaining methods
// run on the dispatch queue. Implementations must be safe for both.
// Pointer arguments on the pump-goroutine methods alias session-scoped
// buffers and are only valid for the duration of the call.
type CallbackInterface interface {
	OnConnect()
	OnConnectionLost()
	OnDeviceFound(info *wire.DeviceInfo)
	OnDeviceLost(serial string)
	OnDeviceFailure(status wire.Result, device trackconn.DeviceHandle)
	OnFrame(frame *wire.TrackingFrame)
	OnImage(img *wire.ImageEvent)
	OnLog(severity wire.LogSeverity, timestamp int64, message string)
	OnPolicy(currentPolicy uint64)
	OnTrackingMode(mode wire.TrackingMode)
	OnConfigChange(requestID uint32, status bool)
	OnConfigResponse(requestID uint32, value wire.ConfigValue)
}
