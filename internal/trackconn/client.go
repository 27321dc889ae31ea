package trackconn

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tactile-data/handlink/internal/monitoring"
	"github.com/tactile-data/handlink/internal/wire"
)

const (
	// DefaultSocketPath is where the daemon listens on a default install.
	DefaultSocketPath = "/var/run/handlink/trackd.sock"

	// defaultRequestTimeout bounds the wait for a sequenced reply.
	defaultRequestTimeout = 2 * time.Second

	// eventQueueDepth buffers service events between the reader goroutine
	// and PollMessage. When it fills the reader blocks, pushing
	// backpressure onto the socket rather than dropping events.
	eventQueueDepth = 256
)

// Client is the real Conn implementation. One reader goroutine owns the
// socket's inbound side and demultiplexes frames: replies resolve the
// pending call matching their sequence number, events join the poll queue.
type Client struct {
	conn           net.Conn
	requestTimeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	seq     uint32
	pending map[uint32]chan *wire.Reply

	events     chan *wire.Message
	closing    chan struct{}
	readerDone chan struct{}
	closeOnce  sync.Once

	configReqID atomic.Uint32
}

// Dial connects to the daemon's unix socket and performs the handshake.
func Dial(path, namespace string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial tracking service: %w", err)
	}
	return NewClient(conn, namespace)
}

// NewClient wraps an established stream connection (tests use net.Pipe),
// starts the reader, and performs the handshake. The connection is closed
// on handshake failure.
func NewClient(conn net.Conn, namespace string) (*Client, error) {
	c := &Client{
		conn:           conn,
		requestTimeout: defaultRequestTimeout,
		pending:        make(map[uint32]chan *wire.Reply),
		events:         make(chan *wire.Message, eventQueueDepth),
		closing:        make(chan struct{}),
		readerDone:     make(chan struct{}),
	}
	go c.readLoop()

	reply, res := c.call(&wire.Request{Type: wire.ReqHandshake, Namespace: namespace})
	if !res.OK() || !reply.Result.OK() {
		if res.OK() {
			res = reply.Result
		}
		c.Close()
		return nil, fmt.Errorf("tracking service handshake: %s", res)
	}
	return c, nil
}

// readLoop owns the inbound side of the socket until it fails or the client
// closes. On exit every pending call is failed with UnexpectedClosed and
// the poll queue reports the same.
func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		for seq, ch := range c.pending {
			ch <- &wire.Reply{Result: wire.UnexpectedClosed}
			delete(c.pending, seq)
		}
		c.mu.Unlock()
		close(c.readerDone)
	}()

	for {
		frameType, flags, payload, err := wire.ReadFrame(c.conn)
		if err != nil {
			select {
			case <-c.closing:
				// expected during Close
			default:
				monitoring.Logf("trackconn: read failed: %v", err)
			}
			return
		}

		if flags&wire.FlagReply != 0 {
			reply, err := wire.DecodeReply(wire.RequestType(frameType), payload)
			if err != nil {
				monitoring.Logf("trackconn: dropping bad reply frame: %v", err)
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[reply.Seq]
			if ok {
				delete(c.pending, reply.Seq)
			}
			c.mu.Unlock()
			if ok {
				ch <- reply
			} else {
				monitoring.Logf("trackconn: reply for unknown sequence %d", reply.Seq)
			}
			continue
		}

		msg, err := wire.DecodeEvent(wire.EventType(frameType), payload)
		if err != nil {
			// Unknown or malformed events are skipped so newer daemons can
			// add event kinds without breaking older clients.
			monitoring.Logf("trackconn: dropping event frame type %d: %v", frameType, err)
			continue
		}
		select {
		case c.events <- msg:
		case <-c.closing:
			return
		}
	}
}

// call sends a sequenced request and waits for its reply.
func (c *Client) call(req *wire.Request) (*wire.Reply, wire.Result) {
	ch := make(chan *wire.Reply, 1)

	c.mu.Lock()
	c.seq++
	req.Seq = c.seq
	c.pending[req.Seq] = ch
	c.mu.Unlock()

	payload, err := wire.EncodeRequest(req)
	if err != nil {
		c.abandon(req.Seq)
		return nil, wire.InvalidArgument
	}

	c.writeMu.Lock()
	err = wire.WriteFrame(c.conn, uint16(req.Type), 0, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.abandon(req.Seq)
		return nil, wire.NotConnected
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		return reply, wire.Success
	case <-timer.C:
		c.abandon(req.Seq)
		return nil, wire.Timeout
	}
}

func (c *Client) abandon(seq uint32) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

// PollMessage implements Conn.
func (c *Client) PollMessage(timeout time.Duration) (*wire.Message, wire.Result) {
	// Drain queued events ahead of reporting a dead connection so nothing
	// already received is lost.
	select {
	case msg := <-c.events:
		return msg, wire.Success
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-c.events:
		return msg, wire.Success
	case <-timer.C:
		return nil, wire.Timeout
	case <-c.readerDone:
		return nil, wire.UnexpectedClosed
	}
}

// OpenDevice implements Conn.
func (c *Client) OpenDevice(ref uint32) (DeviceHandle, wire.Result) {
	reply, res := c.call(&wire.Request{Type: wire.ReqOpenDevice, Ref: ref})
	if !res.OK() {
		return 0, res
	}
	return DeviceHandle(reply.Handle), reply.Result
}

// CloseDevice implements Conn.
func (c *Client) CloseDevice(h DeviceHandle) wire.Result {
	reply, res := c.call(&wire.Request{Type: wire.ReqCloseDevice, Handle: uint32(h)})
	if !res.OK() {
		return res
	}
	return reply.Result
}

// GetDeviceInfo implements Conn.
func (c *Client) GetDeviceInfo(h DeviceHandle, info *wire.DeviceInfo) wire.Result {
	reply, res := c.call(&wire.Request{
		Type:      wire.ReqGetDeviceInfo,
		Handle:    uint32(h),
		SerialCap: uint32(cap(info.Serial)),
	})
	if !res.OK() {
		return res
	}
	switch reply.Result {
	case wire.Success:
		n := len(reply.Info.Serial)
		if n > cap(info.Serial) {
			return wire.ProtocolError
		}
		serial := info.Serial[:n]
		copy(serial, reply.Info.Serial)
		*info = *reply.Info
		info.Serial = serial
		info.SerialLength = uint32(n)
	case wire.InsufficientBuffer:
		info.SerialLength = reply.Required
	}
	return reply.Result
}

// GetFrameSize implements Conn.
func (c *Client) GetFrameSize(timestamp int64) (uint64, wire.Result) {
	reply, res := c.call(&wire.Request{Type: wire.ReqGetFrameSize, Timestamp: timestamp})
	if !res.OK() {
		return 0, res
	}
	return reply.Size, reply.Result
}

// InterpolateFrame implements Conn.
func (c *Client) InterpolateFrame(timestamp int64, buf *wire.Buffer) wire.Result {
	reply, res := c.call(&wire.Request{
		Type:      wire.ReqInterpolateFrame,
		Timestamp: timestamp,
		Capacity:  uint32(buf.Cap()),
	})
	if !res.OK() {
		return res
	}
	if reply.Result.OK() {
		buf.SetLen(len(reply.Frame))
		copy(buf.Bytes(), reply.Frame)
	}
	return reply.Result
}

// SetPolicyFlags implements Conn.
func (c *Client) SetPolicyFlags(set, clear uint64) wire.Result {
	reply, res := c.call(&wire.Request{Type: wire.ReqSetPolicyFlags, Set: set, Clear: clear})
	if !res.OK() {
		return res
	}
	return reply.Result
}

// SetTrackingMode implements Conn.
func (c *Client) SetTrackingMode(mode wire.TrackingMode) wire.Result {
	reply, res := c.call(&wire.Request{Type: wire.ReqSetTrackingMode, Mode: mode})
	if !res.OK() {
		return res
	}
	return reply.Result
}

// RequestConfigValue implements Conn.
func (c *Client) RequestConfigValue(key string) (uint32, wire.Result) {
	id := c.configReqID.Add(1)
	reply, res := c.call(&wire.Request{Type: wire.ReqConfigValue, RequestID: id, Key: key})
	if !res.OK() {
		return 0, res
	}
	return id, reply.Result
}

// Close implements Conn. It is idempotent: the socket close unblocks the
// reader, which fails any in-flight calls.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		err = c.conn.Close()
		<-c.readerDone
	})
	return err
}
