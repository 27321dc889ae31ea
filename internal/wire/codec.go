package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Frame layout: a 12 byte header followed by the payload.
//
//	magic   uint32  0x484C4E4B ("HLNK")
//	type    uint16  EventType or RequestType
//	flags   uint16  bit 0 set on reply frames, remaining bits reserved
//	length  uint32  payload byte count
const (
	frameMagic    = 0x484C4E4B
	headerSize    = 12
	maxPayloadLen = 1 << 20

	// FlagReply marks a frame answering a sequenced request.
	FlagReply uint16 = 1 << 0
)

// RequestType tags client-to-service frames. The value space is disjoint
// from EventType so a frame's direction is unambiguous from its type field.
type RequestType uint16

const (
	ReqHandshake RequestType = 0x100 + iota
	ReqOpenDevice
	ReqCloseDevice
	ReqGetDeviceInfo
	ReqSetPolicyFlags
	ReqSetTrackingMode
	ReqGetFrameSize
	ReqInterpolateFrame
	ReqConfigValue
)

// WriteFrame writes one framed payload to w.
func WriteFrame(w io.Writer, frameType uint16, flags uint16, payload []byte) error {
	if len(payload) > maxPayloadLen {
		return fmt.Errorf("payload length %d exceeds frame limit", len(payload))
	}
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], frameMagic)
	binary.LittleEndian.PutUint16(hdr[4:6], frameType)
	binary.LittleEndian.PutUint16(hdr[6:8], flags)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame reads one framed payload from r. It returns io.EOF unchanged on
// a clean close between frames so callers can distinguish shutdown from a
// torn frame.
func ReadFrame(r io.Reader) (frameType uint16, flags uint16, payload []byte, err error) {
	var hdr [headerSize]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, nil, err
	}
	if magic := binary.LittleEndian.Uint32(hdr[0:4]); magic != frameMagic {
		return 0, 0, nil, fmt.Errorf("bad frame magic 0x%08x", magic)
	}
	frameType = binary.LittleEndian.Uint16(hdr[4:6])
	flags = binary.LittleEndian.Uint16(hdr[6:8])
	length := binary.LittleEndian.Uint32(hdr[8:12])
	if length > maxPayloadLen {
		return 0, 0, nil, fmt.Errorf("frame payload length %d exceeds limit", length)
	}
	if length > 0 {
		payload = make([]byte, length)
		if _, err = io.ReadFull(r, payload); err != nil {
			return 0, 0, nil, fmt.Errorf("short frame payload: %w", err)
		}
	}
	return frameType, flags, payload, nil
}

// writer appends protocol fields to a byte slice.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *writer) i64(v int64)  { w.u64(uint64(v)) }
func (w *writer) f32(v float32) {
	w.u32(math.Float32bits(v))
}
func (w *writer) f64(v float64) {
	w.u64(math.Float64bits(v))
}
func (w *writer) vec3(v Vec3) {
	w.f32(v[0])
	w.f32(v[1])
	w.f32(v[2])
}
func (w *writer) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}
func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}
func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

// reader consumes protocol fields from a payload. The first short read
// sticks in err; callers check it once after all fields are consumed.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.remaining() < n {
		r.err = fmt.Errorf("payload truncated at offset %d (need %d bytes)", r.off, n)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) i64() int64    { return int64(r.u64()) }
func (r *reader) f32() float32  { return math.Float32frombits(r.u32()) }
func (r *reader) f64() float64  { return math.Float64frombits(r.u64()) }
func (r *reader) boolean() bool { return r.u8() != 0 }

func (r *reader) vec3() Vec3 {
	return Vec3{r.f32(), r.f32(), r.f32()}
}

func (r *reader) bytes() []byte {
	n := int(r.u32())
	if r.err != nil {
		return nil
	}
	if n > r.remaining() {
		r.err = fmt.Errorf("length-prefixed field of %d bytes exceeds remaining payload %d", n, r.remaining())
		return nil
	}
	out := make([]byte, n)
	copy(out, r.take(n))
	return out
}

func (r *reader) str() string { return string(r.bytes()) }

// EncodeTrackingFrame serializes a frame into buf (which is truncated
// first) and returns the extended slice.
func EncodeTrackingFrame(buf []byte, f *TrackingFrame) []byte {
	w := writer{buf: buf[:0]}
	w.i64(f.FrameID)
	w.i64(f.Timestamp)
	w.f32(f.Framerate)
	w.u32(uint32(len(f.Hands)))
	for i := range f.Hands {
		h := &f.Hands[i]
		w.u32(h.ID)
		w.u8(uint8(h.Type))
		w.f32(h.Confidence)
		w.f32(h.GrabStrength)
		w.f32(h.PinchStrength)
		w.vec3(h.PalmPosition)
		w.vec3(h.PalmVelocity)
		w.vec3(h.PalmNormal)
		for d := range h.Digits {
			for b := range h.Digits[d].Bones {
				bone := &h.Digits[d].Bones[b]
				w.vec3(bone.PrevJoint)
				w.vec3(bone.NextJoint)
				w.f32(bone.Width)
			}
		}
	}
	return w.buf
}

// handEncodedSize is the fixed wire size of one hand record.
const handEncodedSize = 4 + 1 + 4 + 4 + 4 + 36 + 5*4*(12+12+4)

// DecodeTrackingFrame decodes payload into f, reusing f's hand slice when
// its capacity suffices.
func DecodeTrackingFrame(payload []byte, f *TrackingFrame) error {
	r := reader{buf: payload}
	f.FrameID = r.i64()
	f.Timestamp = r.i64()
	f.Framerate = r.f32()
	count := int(r.u32())
	if r.err != nil {
		return r.err
	}
	if count*handEncodedSize > r.remaining() {
		return fmt.Errorf("hand count %d exceeds remaining payload %d", count, r.remaining())
	}
	if cap(f.Hands) < count {
		f.Hands = make([]Hand, count)
	} else {
		f.Hands = f.Hands[:count]
	}
	for i := 0; i < count; i++ {
		h := &f.Hands[i]
		h.ID = r.u32()
		h.Type = HandType(r.u8())
		h.Confidence = r.f32()
		h.GrabStrength = r.f32()
		h.PinchStrength = r.f32()
		h.PalmPosition = r.vec3()
		h.PalmVelocity = r.vec3()
		h.PalmNormal = r.vec3()
		for d := range h.Digits {
			for b := range h.Digits[d].Bones {
				bone := &h.Digits[d].Bones[b]
				bone.PrevJoint = r.vec3()
				bone.NextJoint = r.vec3()
				bone.Width = r.f32()
			}
		}
	}
	return r.err
}

// EncodeEvent serializes a message for the service side of the protocol.
func EncodeEvent(m *Message) ([]byte, error) {
	w := writer{}
	switch m.Type {
	case EventConnection:
		w.u32(m.Connection.Flags)
	case EventConnectionLost:
		w.u32(m.ConnectionLost.Flags)
	case EventDevice:
		w.u32(m.Device.Ref)
		w.u32(m.Device.Status)
	case EventDeviceLost:
		w.u32(m.DeviceLost.Ref)
		w.u32(m.DeviceLost.Status)
	case EventDeviceFailure:
		w.u32(uint32(m.DeviceFailure.Status))
		w.u32(m.DeviceFailure.Device)
	case EventTracking:
		w.buf = EncodeTrackingFrame(nil, m.Tracking)
	case EventImage:
		w.i64(m.Image.FrameID)
		w.i64(m.Image.Timestamp)
		w.u32(m.Image.Width)
		w.u32(m.Image.Height)
		w.u32(m.Image.BytesPerPixel)
		w.bytes(m.Image.Data)
	case EventLog:
		w.u8(uint8(m.Log.Severity))
		w.i64(m.Log.Timestamp)
		w.str(m.Log.Message)
	case EventPolicy:
		w.u64(m.Policy.CurrentPolicy)
	case EventTrackingMode:
		w.u32(uint32(m.TrackingMode.CurrentMode))
	case EventConfigChange:
		w.u32(m.ConfigChange.RequestID)
		w.boolean(m.ConfigChange.Status)
	case EventConfigResponse:
		w.u32(m.ConfigResponse.RequestID)
		encodeConfigValue(&w, &m.ConfigResponse.Value)
	default:
		return nil, fmt.Errorf("cannot encode event type %d", m.Type)
	}
	return w.buf, nil
}

// DecodeEvent parses an event frame payload into a Message.
func DecodeEvent(frameType EventType, payload []byte) (*Message, error) {
	m := &Message{Type: frameType}
	r := reader{buf: payload}
	switch frameType {
	case EventConnection:
		m.Connection = &ConnectionEvent{Flags: r.u32()}
	case EventConnectionLost:
		m.ConnectionLost = &ConnectionLostEvent{Flags: r.u32()}
	case EventDevice:
		m.Device = &DeviceEvent{Ref: r.u32(), Status: r.u32()}
	case EventDeviceLost:
		m.DeviceLost = &DeviceEvent{Ref: r.u32(), Status: r.u32()}
	case EventDeviceFailure:
		m.DeviceFailure = &DeviceFailureEvent{Status: Result(r.u32()), Device: r.u32()}
	case EventTracking:
		m.Tracking = &TrackingFrame{}
		if err := DecodeTrackingFrame(payload, m.Tracking); err != nil {
			return nil, err
		}
		return m, nil
	case EventImage:
		m.Image = &ImageEvent{
			FrameID:       r.i64(),
			Timestamp:     r.i64(),
			Width:         r.u32(),
			Height:        r.u32(),
			BytesPerPixel: r.u32(),
			Data:          r.bytes(),
		}
	case EventLog:
		m.Log = &LogEvent{
			Severity:  LogSeverity(r.u8()),
			Timestamp: r.i64(),
			Message:   r.str(),
		}
	case EventPolicy:
		m.Policy = &PolicyEvent{CurrentPolicy: r.u64()}
	case EventTrackingMode:
		m.TrackingMode = &TrackingModeEvent{CurrentMode: TrackingMode(r.u32())}
	case EventConfigChange:
		m.ConfigChange = &ConfigChangeEvent{RequestID: r.u32(), Status: r.boolean()}
	case EventConfigResponse:
		m.ConfigResponse = &ConfigResponseEvent{RequestID: r.u32()}
		decodeConfigValue(&r, &m.ConfigResponse.Value)
	default:
		return nil, fmt.Errorf("unknown event type %d", frameType)
	}
	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}

func encodeConfigValue(w *writer, v *ConfigValue) {
	w.u8(uint8(v.Type))
	switch v.Type {
	case ConfigBool:
		w.boolean(v.BoolVal)
	case ConfigInt:
		w.i64(v.IntVal)
	case ConfigFloat:
		w.f64(v.FloatVal)
	case ConfigString:
		w.str(v.StrVal)
	}
}

func decodeConfigValue(r *reader, v *ConfigValue) {
	v.Type = ConfigValueType(r.u8())
	switch v.Type {
	case ConfigBool:
		v.BoolVal = r.boolean()
	case ConfigInt:
		v.IntVal = r.i64()
	case ConfigFloat:
		v.FloatVal = r.f64()
	case ConfigString:
		v.StrVal = r.str()
	default:
		if r.err == nil {
			r.err = fmt.Errorf("unknown config value type %d", v.Type)
		}
	}
}
