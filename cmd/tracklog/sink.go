package main

import (
	"log"
	"sync/atomic"

	"github.com/tactile-data/handlink/internal/session"
	"github.com/tactile-data/handlink/internal/trackconn"
	"github.com/tactile-data/handlink/internal/wire"
)

// printSink logs every event. Tracking frames are summarized once a second
// rather than printed per frame.
type printSink struct {
	frames atomic.Int64
	hands  atomic.Int64
}

func newPrintSink() *printSink { return &printSink{} }

func (p *printSink) OnConnect()        { log.Print("service connected") }
func (p *printSink) OnConnectionLost() { log.Print("service connection lost") }

func (p *printSink) OnDeviceFound(info *wire.DeviceInfo) {
	log.Printf("device found: serial=%s pid=0x%04x range=%dmm", info.SerialString(), info.PID, info.Range)
}

func (p *printSink) OnDeviceLost(serial string) {
	log.Printf("device lost: serial=%s", serial)
}

func (p *printSink) OnDeviceFailure(status wire.Result, device trackconn.DeviceHandle) {
	log.Printf("device failure: status=%s device=%d", status, device)
}

func (p *printSink) OnFrame(frame *wire.TrackingFrame) {
	n := p.frames.Add(1)
	p.hands.Store(int64(len(frame.Hands)))
	if n%60 == 0 {
		log.Printf("frames=%d hands=%d framerate=%.1f", n, len(frame.Hands), frame.Framerate)
	}
}

func (p *printSink) OnImage(img *wire.ImageEvent) {
	log.Printf("image: frame=%d %dx%d", img.FrameID, img.Width, img.Height)
}

func (p *printSink) OnLog(severity wire.LogSeverity, timestamp int64, message string) {
	log.Printf("service %s: %s", severity, message)
}

func (p *printSink) OnPolicy(currentPolicy uint64) {
	log.Printf("policy flags now 0x%x", currentPolicy)
}

func (p *printSink) OnTrackingMode(mode wire.TrackingMode) {
	log.Printf("tracking mode now %d", mode)
}

func (p *printSink) OnConfigChange(requestID uint32, status bool) {
	log.Printf("config change %d ok=%t", requestID, status)
}

func (p *printSink) OnConfigResponse(requestID uint32, value wire.ConfigValue) {
	log.Printf("config response %d type=%d", requestID, value.Type)
}

// teeSink fans one callback stream out to several sinks, in order.
type teeSink []session.CallbackInterface

func (t teeSink) OnConnect() {
	for _, s := range t {
		s.OnConnect()
	}
}

func (t teeSink) OnConnectionLost() {
	for _, s := range t {
		s.OnConnectionLost()
	}
}

func (t teeSink) OnDeviceFound(info *wire.DeviceInfo) {
	for _, s := range t {
		s.OnDeviceFound(info)
	}
}

func (t teeSink) OnDeviceLost(serial string) {
	for _, s := range t {
		s.OnDeviceLost(serial)
	}
}

func (t teeSink) OnDeviceFailure(status wire.Result, device trackconn.DeviceHandle) {
	for _, s := range t {
		s.OnDeviceFailure(status, device)
	}
}

func (t teeSink) OnFrame(frame *wire.TrackingFrame) {
	for _, s := range t {
		s.OnFrame(frame)
	}
}

func (t teeSink) OnImage(img *wire.ImageEvent) {
	for _, s := range t {
		s.OnImage(img)
	}
}

func (t teeSink) OnLog(severity wire.LogSeverity, timestamp int64, message string) {
	for _, s := range t {
		s.OnLog(severity, timestamp, message)
	}
}

func (t teeSink) OnPolicy(currentPolicy uint64) {
	for _, s := range t {
		s.OnPolicy(currentPolicy)
	}
}

func (t teeSink) OnTrackingMode(mode wire.TrackingMode) {
	for _, s := range t {
		s.OnTrackingMode(mode)
	}
}

func (t teeSink) OnConfigChange(requestID uint32, status bool) {
	for _, s := range t {
		s.OnConfigChange(requestID, status)
	}
}

func (t teeSink) OnConfigResponse(requestID uint32, value wire.ConfigValue) {
	for _, s := range t {
		s.OnConfigResponse(requestID, value)
	}
}
