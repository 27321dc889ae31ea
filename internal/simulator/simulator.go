// Package simulator implements the service side of the tracking daemon's
// wire protocol for development and integration testing. A Server drives a
// single client connection: it answers sequenced requests, announces a
// configured device, and streams synthetic tracking frames at a fixed rate.
package simulator

import (
	"context"
	"math"
	"net"
	"sync"
	"time"

	"github.com/tactile-data/handlink/internal/monitoring"
	"github.com/tactile-data/handlink/internal/wire"
)

// Device describes the sensor the simulator announces after the handshake.
type Device struct {
	Serial   string
	PID      uint32
	Baseline uint32
	HFOV     float32
	VFOV     float32
	Range    uint32
}

// Config controls the simulated service.
type Config struct {
	// Device, when non-zero, is announced right after the connection
	// event. The zero value announces nothing.
	Device Device

	// FrameRate is the synthetic tracking frame rate in Hz. Zero disables
	// frame streaming.
	FrameRate float64

	// Hands is the number of hands in each synthetic frame (0-2).
	Hands int

	// Events are scripted messages sent once, after the connection event
	// and any device announcement.
	Events []*wire.Message
}

// Server serves exactly one client connection.
type Server struct {
	cfg Config

	writeMu sync.Mutex
	conn    net.Conn

	mu          sync.Mutex
	policy      uint64
	mode        wire.TrackingMode
	nextHandle  uint32
	openDevices map[uint32]uint32 // handle -> device ref
	frameID     int64
}

// New returns a server for cfg.
func New(cfg Config) *Server {
	if cfg.Hands < 0 {
		cfg.Hands = 0
	}
	if cfg.Hands > 2 {
		cfg.Hands = 2
	}
	return &Server{cfg: cfg, openDevices: make(map[uint32]uint32)}
}

// Pipe wires a server to an in-memory connection and returns the client
// half. The server goroutine exits when ctx is cancelled or the client
// closes its end.
func Pipe(ctx context.Context, cfg Config) net.Conn {
	clientEnd, serverEnd := net.Pipe()
	srv := New(cfg)
	go func() {
		if err := srv.Serve(ctx, serverEnd); err != nil {
			monitoring.Logf("simulator: serve: %v", err)
		}
	}()
	return clientEnd
}

// Serve drives the protocol on conn until the context is cancelled or the
// peer disconnects. The connection is closed on return.
func (s *Server) Serve(ctx context.Context, conn net.Conn) error {
	s.conn = conn
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		frameType, _, payload, err := wire.ReadFrame(conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		req, err := wire.DecodeRequest(wire.RequestType(frameType), payload)
		if err != nil {
			monitoring.Logf("simulator: bad request frame: %v", err)
			continue
		}
		if err := s.handleRequest(ctx, req); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, req *wire.Request) error {
	reply := &wire.Reply{Type: req.Type, Seq: req.Seq, Result: wire.Success}

	switch req.Type {
	case wire.ReqHandshake:
		if err := s.reply(reply); err != nil {
			return err
		}
		// Handshake complete: connection event, device announcement,
		// scripted events, then the frame stream.
		if err := s.event(&wire.Message{Type: wire.EventConnection, Connection: &wire.ConnectionEvent{}}); err != nil {
			return err
		}
		if s.cfg.Device.Serial != "" {
			if err := s.event(&wire.Message{Type: wire.EventDevice, Device: &wire.DeviceEvent{Ref: 1}}); err != nil {
				return err
			}
		}
		for _, ev := range s.cfg.Events {
			if err := s.event(ev); err != nil {
				return err
			}
		}
		if s.cfg.FrameRate > 0 {
			go s.streamFrames(ctx)
		}
		return nil

	case wire.ReqOpenDevice:
		s.mu.Lock()
		s.nextHandle++
		handle := s.nextHandle
		s.openDevices[handle] = req.Ref
		s.mu.Unlock()
		reply.Handle = handle

	case wire.ReqCloseDevice:
		s.mu.Lock()
		if _, ok := s.openDevices[req.Handle]; !ok {
			reply.Result = wire.InvalidArgument
		}
		delete(s.openDevices, req.Handle)
		s.mu.Unlock()

	case wire.ReqGetDeviceInfo:
		s.deviceInfoReply(req, reply)

	case wire.ReqSetPolicyFlags:
		s.mu.Lock()
		s.policy = (s.policy | req.Set) &^ req.Clear
		policy := s.policy
		s.mu.Unlock()
		if err := s.reply(reply); err != nil {
			return err
		}
		return s.event(&wire.Message{Type: wire.EventPolicy, Policy: &wire.PolicyEvent{CurrentPolicy: policy}})

	case wire.ReqSetTrackingMode:
		s.mu.Lock()
		s.mode = req.Mode
		mode := s.mode
		s.mu.Unlock()
		if err := s.reply(reply); err != nil {
			return err
		}
		return s.event(&wire.Message{Type: wire.EventTrackingMode, TrackingMode: &wire.TrackingModeEvent{CurrentMode: mode}})

	case wire.ReqGetFrameSize:
		reply.Size = uint64(len(wire.EncodeTrackingFrame(nil, s.syntheticFrame(req.Timestamp))))

	case wire.ReqInterpolateFrame:
		encoded := wire.EncodeTrackingFrame(nil, s.syntheticFrame(req.Timestamp))
		if int(req.Capacity) < len(encoded) {
			reply.Result = wire.InsufficientBuffer
			reply.Required = uint32(len(encoded))
		} else {
			reply.Frame = encoded
		}

	case wire.ReqConfigValue:
		if err := s.reply(reply); err != nil {
			return err
		}
		return s.event(&wire.Message{Type: wire.EventConfigResponse, ConfigResponse: &wire.ConfigResponseEvent{
			RequestID: req.RequestID,
			Value:     wire.ConfigValue{Type: wire.ConfigString, StrVal: "simulated"},
		}})

	default:
		reply.Result = wire.InvalidArgument
	}

	return s.reply(reply)
}

// deviceInfoReply implements the serial size negotiation: an undersized
// buffer gets InsufficientBuffer plus the required length.
func (s *Server) deviceInfoReply(req *wire.Request, reply *wire.Reply) {
	s.mu.Lock()
	_, open := s.openDevices[req.Handle]
	s.mu.Unlock()
	if !open {
		reply.Result = wire.InvalidArgument
		return
	}

	serial := []byte(s.cfg.Device.Serial)
	if int(req.SerialCap) < len(serial) {
		reply.Result = wire.InsufficientBuffer
		reply.Required = uint32(len(serial))
		return
	}
	reply.Info = &wire.DeviceInfo{
		PID:      s.cfg.Device.PID,
		Baseline: s.cfg.Device.Baseline,
		HFOV:     s.cfg.Device.HFOV,
		VFOV:     s.cfg.Device.VFOV,
		Range:    s.cfg.Device.Range,
		Serial:   serial,
	}
}

// streamFrames emits synthetic tracking events at the configured rate until
// the context ends or a write fails.
func (s *Server) streamFrames(ctx context.Context) {
	interval := time.Duration(float64(time.Second) / s.cfg.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			frame := s.syntheticFrame(t.UnixMicro())
			if err := s.event(&wire.Message{Type: wire.EventTracking, Tracking: frame}); err != nil {
				return
			}
		}
	}
}

// syntheticFrame generates a deterministic pose for a timestamp: palms on
// slow circles, fingers splayed. Good enough for consumers that only need
// plausible motion.
func (s *Server) syntheticFrame(timestamp int64) *wire.TrackingFrame {
	s.mu.Lock()
	s.frameID++
	id := s.frameID
	s.mu.Unlock()

	frame := &wire.TrackingFrame{
		FrameID:   id,
		Timestamp: timestamp,
		Framerate: float32(s.cfg.FrameRate),
		Hands:     make([]wire.Hand, s.cfg.Hands),
	}
	phase := float64(timestamp) / 1e6
	for i := range frame.Hands {
		h := &frame.Hands[i]
		h.ID = uint32(i + 1)
		h.Type = wire.HandType(i % 2)
		h.Confidence = 1
		side := float64(i*2 - 1)
		h.PalmPosition = wire.Vec3{
			float32(80*side + 30*math.Cos(phase)),
			float32(200 + 30*math.Sin(phase)),
			float32(40 * math.Sin(phase/2)),
		}
		h.PalmNormal = wire.Vec3{0, -1, 0}
		for d := range h.Digits {
			for b := range h.Digits[d].Bones {
				bone := &h.Digits[d].Bones[b]
				spread := float32(d-2) * 15
				reach := float32(b+1) * 20
				bone.PrevJoint = h.PalmPosition
				bone.NextJoint = wire.Vec3{
					h.PalmPosition[0] + spread,
					h.PalmPosition[1],
					h.PalmPosition[2] - reach,
				}
				bone.Width = 12
			}
		}
	}
	return frame
}

func (s *Server) reply(p *wire.Reply) error {
	payload, err := wire.EncodeReply(p)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wire.WriteFrame(s.conn, uint16(p.Type), wire.FlagReply, payload)
}

func (s *Server) event(m *wire.Message) error {
	payload, err := wire.EncodeEvent(m)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wire.WriteFrame(s.conn, uint16(m.Type), 0, payload)
}
