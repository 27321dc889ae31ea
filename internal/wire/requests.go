package wire

import "fmt"

// Request is the client-to-service side of the protocol. Only the fields
// relevant to Type are populated. Seq is a client-chosen sequence number
// echoed by the matching reply; requests the service answers with an event
// (policy, tracking mode, config) still carry a Seq for the acknowledgement
// reply.
type Request struct {
	Type      RequestType
	Seq       uint32
	Namespace string       // Handshake
	Ref       uint32       // OpenDevice
	Handle    uint32       // CloseDevice, GetDeviceInfo
	SerialCap uint32       // GetDeviceInfo
	Set       uint64       // SetPolicyFlags
	Clear     uint64       // SetPolicyFlags
	Mode      TrackingMode // SetTrackingMode
	Timestamp int64        // GetFrameSize, InterpolateFrame
	Capacity  uint32       // InterpolateFrame
	RequestID uint32       // ConfigValue
	Key       string       // ConfigValue
}

// Reply answers a sequenced request. Result is always meaningful; the other
// fields depend on Type and Result (Required accompanies InsufficientBuffer
// replies to GetDeviceInfo and InterpolateFrame).
type Reply struct {
	Type     RequestType
	Seq      uint32
	Result   Result
	Handle   uint32      // OpenDevice
	Info     *DeviceInfo // GetDeviceInfo on Success
	Required uint32      // InsufficientBuffer replies
	Size     uint64      // GetFrameSize
	Frame    []byte      // InterpolateFrame on Success
}

// EncodeRequest serializes a request payload (excluding the frame header).
func EncodeRequest(q *Request) ([]byte, error) {
	w := writer{}
	w.u32(q.Seq)
	switch q.Type {
	case ReqHandshake:
		w.str(q.Namespace)
	case ReqOpenDevice:
		w.u32(q.Ref)
	case ReqCloseDevice:
		w.u32(q.Handle)
	case ReqGetDeviceInfo:
		w.u32(q.Handle)
		w.u32(q.SerialCap)
	case ReqSetPolicyFlags:
		w.u64(q.Set)
		w.u64(q.Clear)
	case ReqSetTrackingMode:
		w.u32(uint32(q.Mode))
	case ReqGetFrameSize:
		w.i64(q.Timestamp)
	case ReqInterpolateFrame:
		w.i64(q.Timestamp)
		w.u32(q.Capacity)
	case ReqConfigValue:
		w.u32(q.RequestID)
		w.str(q.Key)
	default:
		return nil, fmt.Errorf("cannot encode request type %d", q.Type)
	}
	return w.buf, nil
}

// DecodeRequest parses a request frame payload.
func DecodeRequest(frameType RequestType, payload []byte) (*Request, error) {
	q := &Request{Type: frameType}
	r := reader{buf: payload}
	q.Seq = r.u32()
	switch frameType {
	case ReqHandshake:
		q.Namespace = r.str()
	case ReqOpenDevice:
		q.Ref = r.u32()
	case ReqCloseDevice:
		q.Handle = r.u32()
	case ReqGetDeviceInfo:
		q.Handle = r.u32()
		q.SerialCap = r.u32()
	case ReqSetPolicyFlags:
		q.Set = r.u64()
		q.Clear = r.u64()
	case ReqSetTrackingMode:
		q.Mode = TrackingMode(r.u32())
	case ReqGetFrameSize:
		q.Timestamp = r.i64()
	case ReqInterpolateFrame:
		q.Timestamp = r.i64()
		q.Capacity = r.u32()
	case ReqConfigValue:
		q.RequestID = r.u32()
		q.Key = r.str()
	default:
		return nil, fmt.Errorf("unknown request type %d", frameType)
	}
	if r.err != nil {
		return nil, r.err
	}
	return q, nil
}

// EncodeReply serializes a reply payload (excluding the frame header).
func EncodeReply(p *Reply) ([]byte, error) {
	w := writer{}
	w.u32(p.Seq)
	w.u32(uint32(p.Result))
	switch p.Type {
	case ReqHandshake, ReqCloseDevice, ReqSetPolicyFlags, ReqSetTrackingMode, ReqConfigValue:
		// result only
	case ReqOpenDevice:
		w.u32(p.Handle)
	case ReqGetDeviceInfo:
		switch p.Result {
		case Success:
			info := p.Info
			w.u32(info.Status)
			w.u32(info.Caps)
			w.u32(info.PID)
			w.u32(info.Baseline)
			w.f32(info.HFOV)
			w.f32(info.VFOV)
			w.u32(info.Range)
			w.bytes(info.Serial)
		case InsufficientBuffer:
			w.u32(p.Required)
		}
	case ReqGetFrameSize:
		w.u64(p.Size)
	case ReqInterpolateFrame:
		switch p.Result {
		case Success:
			w.bytes(p.Frame)
		case InsufficientBuffer:
			w.u32(p.Required)
		}
	default:
		return nil, fmt.Errorf("cannot encode reply type %d", p.Type)
	}
	return w.buf, nil
}

// DecodeReply parses a reply frame payload.
func DecodeReply(frameType RequestType, payload []byte) (*Reply, error) {
	p := &Reply{Type: frameType}
	r := reader{buf: payload}
	p.Seq = r.u32()
	p.Result = Result(r.u32())
	switch frameType {
	case ReqHandshake, ReqCloseDevice, ReqSetPolicyFlags, ReqSetTrackingMode, ReqConfigValue:
		// result only
	case ReqOpenDevice:
		p.Handle = r.u32()
	case ReqGetDeviceInfo:
		switch p.Result {
		case Success:
			info := &DeviceInfo{
				Status:   r.u32(),
				Caps:     r.u32(),
				PID:      r.u32(),
				Baseline: r.u32(),
				HFOV:     r.f32(),
				VFOV:     r.f32(),
				Range:    r.u32(),
			}
			info.Serial = r.bytes()
			info.SerialLength = uint32(len(info.Serial))
			p.Info = info
		case InsufficientBuffer:
			p.Required = r.u32()
		}
	case ReqGetFrameSize:
		p.Size = r.u64()
	case ReqInterpolateFrame:
		switch p.Result {
		case Success:
			p.Frame = r.bytes()
		case InsufficientBuffer:
			p.Required = r.u32()
		}
	default:
		return nil, fmt.Errorf("unknown reply type %d", frameType)
	}
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}
