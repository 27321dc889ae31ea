// Package wire defines the framed binary protocol spoken by the hand-tracking
// daemon: event and request types, their payload structs, and the codec that
// reads and writes them over a stream socket. All integers are little-endian.
package wire

// EventType tags service-to-client event frames. The values are part of the
// protocol and must not be reordered.
type EventType uint16

const (
	EventNone EventType = iota
	EventConnection
	EventConnectionLost
	EventDevice
	EventDeviceLost
	EventDeviceFailure
	EventTracking
	EventImage
	EventLog
	EventPolicy
	EventTrackingMode
	EventConfigChange
	EventConfigResponse
)

// TrackingMode selects the mounting/orientation profile the service tracks
// hands for.
type TrackingMode uint32

const (
	TrackingModeDesktop TrackingMode = iota
	TrackingModeHMD
	TrackingModeScreentop
)

// PolicyFlag bits accepted by SetPolicyFlags. Semantics are owned by the
// service; the client passes them through.
type PolicyFlag uint64

const (
	PolicyBackgroundFrames PolicyFlag = 1 << iota
	PolicyImages
	PolicyOptimizeHMD
	PolicyAllowPauseResume
	PolicyMapPoints
)

// LogSeverity of a service log event.
type LogSeverity uint8

const (
	LogSeverityUnknown LogSeverity = iota
	LogSeverityCritical
	LogSeverityWarning
	LogSeverityInformation
)

func (s LogSeverity) String() string {
	switch s {
	case LogSeverityCritical:
		return "critical"
	case LogSeverityWarning:
		return "warning"
	case LogSeverityInformation:
		return "info"
	default:
		return "unknown"
	}
}

// Vec3 is a position or direction in the service's millimetre coordinate
// space.
type Vec3 [3]float32

// HandType distinguishes left from right.
type HandType uint8

const (
	HandLeft HandType = iota
	HandRight
)

// Bone is one segment of a digit, described by its two joint endpoints.
type Bone struct {
	PrevJoint Vec3
	NextJoint Vec3
	Width     float32
}

// Digit is a finger or thumb: metacarpal, proximal, intermediate, distal.
type Digit struct {
	Bones [4]Bone
}

// Hand is one tracked hand within a frame.
type Hand struct {
	ID            uint32
	Type          HandType
	Confidence    float32
	GrabStrength  float32
	PinchStrength float32
	PalmPosition  Vec3
	PalmVelocity  Vec3
	PalmNormal    Vec3
	Digits        [5]Digit
}

// TrackingFrame is the fixed-plus-variable-size pose record for one service
// tick. The session caches exactly one of these and mutates it in place, so
// consumers that need stability must copy.
type TrackingFrame struct {
	FrameID   int64
	Timestamp int64
	Framerate float32
	Hands     []Hand
}

// DeviceInfo describes a connected sensor. Serial is an owned buffer;
// SerialLength is the length last reported by the service, which on an
// InsufficientBuffer reply exceeds len(Serial) and tells the caller how much
// to allocate for the retry.
type DeviceInfo struct {
	Status       uint32
	Caps         uint32
	PID          uint32
	Baseline     uint32
	HFOV         float32
	VFOV         float32
	Range        uint32
	SerialLength uint32
	Serial       []byte
}

// SerialString returns the serial buffer as a string, empty when no device
// info has been cached.
func (d *DeviceInfo) SerialString() string {
	if d == nil {
		return ""
	}
	return string(d.Serial)
}

// ConnectionEvent reports the service accepting the client.
type ConnectionEvent struct {
	Flags uint32
}

// ConnectionLostEvent reports the service side dropping the connection.
type ConnectionLostEvent struct {
	Flags uint32
}

// DeviceEvent announces a device appearing or disappearing. Ref is the
// service-side reference used to open the device for queries.
type DeviceEvent struct {
	Ref    uint32
	Status uint32
}

// DeviceFailureEvent reports a device entering a failure state.
type DeviceFailureEvent struct {
	Status Result
	Device uint32
}

// ImageEvent carries one stereo camera image pair's raw bytes.
type ImageEvent struct {
	FrameID       int64
	Timestamp     int64
	Width         uint32
	Height        uint32
	BytesPerPixel uint32
	Data          []byte
}

// LogEvent is a diagnostic message emitted by the service.
type LogEvent struct {
	Severity  LogSeverity
	Timestamp int64
	Message   string
}

// PolicyEvent reports the policy bits currently in effect.
type PolicyEvent struct {
	CurrentPolicy uint64
}

// TrackingModeEvent reports the tracking mode currently in effect.
type TrackingModeEvent struct {
	CurrentMode TrackingMode
}

// ConfigChangeEvent acknowledges a config write request.
type ConfigChangeEvent struct {
	RequestID uint32
	Status    bool
}

// ConfigValueType discriminates ConfigValue.
type ConfigValueType uint8

const (
	ConfigBool ConfigValueType = iota
	ConfigInt
	ConfigFloat
	ConfigString
)

// ConfigValue is the variant payload of a config read response.
type ConfigValue struct {
	Type     ConfigValueType
	BoolVal  bool
	IntVal   int64
	FloatVal float64
	StrVal   string
}

// ConfigResponseEvent answers a config read request.
type ConfigResponseEvent struct {
	RequestID uint32
	Value     ConfigValue
}

// Message is the tagged union handed to the pump for one poll iteration.
// Exactly the pointer matching Type is non-nil. Messages are not retained
// past the iteration that received them.
type Message struct {
	Type           EventType
	Connection     *ConnectionEvent
	ConnectionLost *ConnectionLostEvent
	Device         *DeviceEvent
	DeviceLost     *DeviceEvent
	DeviceFailure  *DeviceFailureEvent
	Tracking       *TrackingFrame
	Image          *ImageEvent
	Log            *LogEvent
	Policy         *PolicyEvent
	TrackingMode   *TrackingModeEvent
	ConfigChange   *ConfigChangeEvent
	ConfigResponse *ConfigResponseEvent
}
