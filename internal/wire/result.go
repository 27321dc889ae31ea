package wire

// Result is the status code space shared with the tracking service. Every
// request/reply and most client operations report one of these instead of
// carrying a Go error across the protocol boundary.
type Result uint32

const (
	Success Result = iota
	UnknownError
	InvalidArgument
	InsufficientResources
	InsufficientBuffer
	Timeout
	NotConnected
	HandshakeIncomplete
	ProtocolError
	UnexpectedClosed
	NotStreaming
	CannotOpenDevice
	ConcurrentPoll
	NotAvailable
)

var resultNames = map[Result]string{
	Success:               "Success",
	UnknownError:          "UnknownError",
	InvalidArgument:       "InvalidArgument",
	InsufficientResources: "InsufficientResources",
	InsufficientBuffer:    "InsufficientBuffer",
	Timeout:               "Timeout",
	NotConnected:          "NotConnected",
	HandshakeIncomplete:   "HandshakeIncomplete",
	ProtocolError:         "ProtocolError",
	UnexpectedClosed:      "UnexpectedClosed",
	NotStreaming:          "NotStreaming",
	CannotOpenDevice:      "CannotOpenDevice",
	ConcurrentPoll:        "ConcurrentPoll",
	NotAvailable:          "NotAvailable",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return "unknown result code"
}

// OK reports whether the result is Success.
func (r Result) OK() bool { return r == Success }
