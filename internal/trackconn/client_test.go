package trackconn

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tactile-data/handlink/internal/monitoring"
	"github.com/tactile-data/handlink/internal/wire"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

// serviceEnd scripts the daemon side of a net.Pipe. The handshake is always
// accepted; other requests go through the handler.
type serviceEnd struct {
	t       *testing.T
	conn    net.Conn
	writeMu sync.Mutex
	handler func(*wire.Request) *wire.Reply
}

func newTestClient(t *testing.T, handler func(*wire.Request) *wire.Reply) (*Client, *serviceEnd) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	svc := &serviceEnd{t: t, conn: serverConn, handler: handler}
	go svc.loop()
	t.Cleanup(func() { serverConn.Close() })

	client, err := NewClient(clientConn, "test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, svc
}

func (s *serviceEnd) loop() {
	for {
		frameType, _, payload, err := wire.ReadFrame(s.conn)
		if err != nil {
			return
		}
		req, err := wire.DecodeRequest(wire.RequestType(frameType), payload)
		if err != nil {
			continue
		}
		var reply *wire.Reply
		if req.Type == wire.ReqHandshake {
			reply = &wire.Reply{Type: req.Type, Result: wire.Success}
		} else if s.handler != nil {
			reply = s.handler(req)
		}
		if reply == nil {
			continue
		}
		reply.Seq = req.Seq
		s.sendReply(reply)
	}
}

func (s *serviceEnd) sendReply(p *wire.Reply) {
	payload, err := wire.EncodeReply(p)
	require.NoError(s.t, err)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	wire.WriteFrame(s.conn, uint16(p.Type), wire.FlagReply, payload)
}

func (s *serviceEnd) sendEvent(m *wire.Message) {
	payload, err := wire.EncodeEvent(m)
	require.NoError(s.t, err)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	wire.WriteFrame(s.conn, uint16(m.Type), 0, payload)
}

func TestHandshakeRejected(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()
	go func() {
		frameType, _, payload, err := wire.ReadFrame(serverConn)
		if err != nil {
			return
		}
		req, _ := wire.DecodeRequest(wire.RequestType(frameType), payload)
		reply := &wire.Reply{Type: wire.ReqHandshake, Seq: req.Seq, Result: wire.HandshakeIncomplete}
		encoded, _ := wire.EncodeReply(reply)
		wire.WriteFrame(serverConn, uint16(reply.Type), wire.FlagReply, encoded)
	}()

	_, err := NewClient(clientConn, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake")
}

func TestPollMessageOrderAndTimeout(t *testing.T) {
	t.Parallel()

	client, svc := newTestClient(t, nil)

	svc.sendEvent(&wire.Message{Type: wire.EventConnection, Connection: &wire.ConnectionEvent{}})
	svc.sendEvent(&wire.Message{Type: wire.EventPolicy, Policy: &wire.PolicyEvent{CurrentPolicy: 1}})
	svc.sendEvent(&wire.Message{Type: wire.EventPolicy, Policy: &wire.PolicyEvent{CurrentPolicy: 2}})

	types := []wire.EventType{}
	for i := 0; i < 3; i++ {
		msg, res := client.PollMessage(time.Second)
		require.True(t, res.OK())
		types = append(types, msg.Type)
	}
	assert.Equal(t, []wire.EventType{wire.EventConnection, wire.EventPolicy, wire.EventPolicy}, types)

	_, res := client.PollMessage(20 * time.Millisecond)
	assert.Equal(t, wire.Timeout, res)
}

func TestPollMessageAfterPeerClose(t *testing.T) {
	t.Parallel()

	client, svc := newTestClient(t, nil)
	svc.sendEvent(&wire.Message{Type: wire.EventConnection, Connection: &wire.ConnectionEvent{}})

	// The queued event survives the close; only then is the dead
	// connection reported.
	msg, res := client.PollMessage(time.Second)
	require.True(t, res.OK())
	assert.Equal(t, wire.EventConnection, msg.Type)

	svc.conn.Close()
	assert.Eventually(t, func() bool {
		_, res := client.PollMessage(10 * time.Millisecond)
		return res == wire.UnexpectedClosed
	}, time.Second, 10*time.Millisecond)
}

func TestRequestFailsWhenPeerDies(t *testing.T) {
	t.Parallel()

	// Handler never answers; the connection dies instead.
	client, svc := newTestClient(t, func(req *wire.Request) *wire.Reply {
		return nil
	})
	client.requestTimeout = 200 * time.Millisecond

	go func() {
		time.Sleep(20 * time.Millisecond)
		svc.conn.Close()
	}()

	_, res := client.OpenDevice(1)
	assert.Contains(t, []wire.Result{wire.UnexpectedClosed, wire.Timeout, wire.NotConnected}, res)
}

func TestGetDeviceInfoNegotiation(t *testing.T) {
	t.Parallel()

	serial := []byte("LP-1234567890ABCDEF")
	client, _ := newTestClient(t, func(req *wire.Request) *wire.Reply {
		reply := &wire.Reply{Type: req.Type, Result: wire.Success}
		switch req.Type {
		case wire.ReqGetDeviceInfo:
			if int(req.SerialCap) < len(serial) {
				reply.Result = wire.InsufficientBuffer
				reply.Required = uint32(len(serial))
				return reply
			}
			reply.Info = &wire.DeviceInfo{PID: 0x1201, Serial: serial}
		}
		return reply
	})

	info := wire.DeviceInfo{Serial: make([]byte, 8)}
	res := client.GetDeviceInfo(3, &info)
	require.Equal(t, wire.InsufficientBuffer, res)
	assert.Equal(t, uint32(len(serial)), info.SerialLength, "required length reported")
	assert.Len(t, info.Serial, 8, "undersized buffer left untouched")

	info.Serial = make([]byte, info.SerialLength)
	res = client.GetDeviceInfo(3, &info)
	require.Equal(t, wire.Success, res)
	assert.Equal(t, serial, info.Serial)
	assert.Equal(t, uint32(0x1201), info.PID)
	assert.Equal(t, uint32(len(serial)), info.SerialLength)
}

func TestInterpolateFrameFillsBuffer(t *testing.T) {
	t.Parallel()

	encoded := wire.EncodeTrackingFrame(nil, &wire.TrackingFrame{FrameID: 9, Framerate: 90})
	client, _ := newTestClient(t, func(req *wire.Request) *wire.Reply {
		reply := &wire.Reply{Type: req.Type, Result: wire.Success}
		switch req.Type {
		case wire.ReqGetFrameSize:
			reply.Size = uint64(len(encoded))
		case wire.ReqInterpolateFrame:
			if int(req.Capacity) < len(encoded) {
				reply.Result = wire.InsufficientBuffer
				reply.Required = uint32(len(encoded))
			} else {
				reply.Frame = encoded
			}
		}
		return reply
	})

	size, res := client.GetFrameSize(123)
	require.True(t, res.OK())
	require.Equal(t, uint64(len(encoded)), size)

	var buf wire.Buffer
	res = client.InterpolateFrame(123, &buf)
	assert.Equal(t, wire.InsufficientBuffer, res, "empty buffer is too small")

	buf.EnsureCapacity(int(size))
	res = client.InterpolateFrame(123, &buf)
	require.True(t, res.OK())
	assert.Equal(t, encoded, buf.Bytes())

	var frame wire.TrackingFrame
	require.NoError(t, wire.DecodeTrackingFrame(buf.Bytes(), &frame))
	assert.Equal(t, int64(9), frame.FrameID)
}

func TestRequestConfigValueAssignsIDs(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(req *wire.Request) *wire.Reply {
		return &wire.Reply{Type: req.Type, Result: wire.Success}
	})

	id1, res := client.RequestConfigValue("tracking.mode")
	require.True(t, res.OK())
	id2, res := client.RequestConfigValue("tracking.images")
	require.True(t, res.OK())
	assert.NotEqual(t, id1, id2)
}

func TestClientCloseIdempotent(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, nil)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, res := client.PollMessage(10 * time.Millisecond)
	assert.Equal(t, wire.UnexpectedClosed, res)
}
