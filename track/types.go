package track

import (
	"math"
	"time"
)

// Vec3 represents a 3D coordinate
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + o
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Sub returns v - o
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Scale returns v * s
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Dot returns the dot product of v and o
func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Norm returns the Euclidean length of v
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Dist2 returns the squared Euclidean distance between v and o
func (v Vec3) Dist2(o Vec3) float64 {
	dx := v.X - o.X
	dy := v.Y - o.Y
	dz := v.Z - o.Z
	return dx*dx + dy*dy + dz*dz
}

// At returns the coordinate on the given axis (0=x, 1=y, 2=z)
func (v Vec3) At(axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// Point is a single sample of a point cloud frame.
// Color is carried along but never participates in geometry.
type Point struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	R        uint8   `json:"r,omitempty"`
	G        uint8   `json:"g,omitempty"`
	B        uint8   `json:"b,omitempty"`
	HasColor bool    `json:"-"`
}

// Position returns the geometric part of the point
func (p Point) Position() Vec3 {
	return Vec3{X: p.X, Y: p.Y, Z: p.Z}
}

// WithPosition returns a copy of p moved to v, keeping its color
func (p Point) WithPosition(v Vec3) Point {
	p.X, p.Y, p.Z = v.X, v.Y, v.Z
	return p
}

// Frame is one point cloud as delivered by the sensor.
// All points belong to the coordinate frame named by FrameID.
type Frame struct {
	FrameID string    `json:"frameId"`
	Stamp   time.Time `json:"stamp"`
	Points  []Point   `json:"points"`
}

// Len returns the number of points in the frame. A nil frame has none.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Points)
}

// Clone returns a deep copy of the frame
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	points := make([]Point, len(f.Points))
	copy(points, f.Points)
	return &Frame{FrameID: f.FrameID, Stamp: f.Stamp, Points: points}
}

// Positions returns the coordinates of every point, in frame order
func (f *Frame) Positions() []Vec3 {
	if f == nil {
		return nil
	}
	out := make([]Vec3, len(f.Points))
	for i, p := range f.Points {
		out[i] = p.Position()
	}
	return out
}

// Quaternion is a unit rotation quaternion (W + Xi + Yj + Zk)
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Pose is the estimated object motion for one registration cycle,
// expressed as position + orientation.
type Pose struct {
	FrameID     string     `json:"frameId"`
	Stamp       time.Time  `json:"stamp"`
	Position    Vec3       `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// Config represents the full configuration file
type Config struct {
	MQTT      MQTTConfig  `yaml:"mqtt" json:"mqtt"`
	FrameID   string      `yaml:"frameId,omitempty" json:"frameId,omitempty"`     // Label attached to published clouds (default /camera_link)
	QueueSize int         `yaml:"queueSize,omitempty" json:"queueSize,omitempty"` // Pending frames held while a cycle runs (default 64)
	ICP       ICPSettings `yaml:"icp" json:"icp"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	InputTopic    string `yaml:"inputTopic" json:"inputTopic"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	Retain        bool   `yaml:"retain,omitempty" json:"retain,omitempty"`
}

// ICPSettings is the YAML form of ICPConfig. The four core parameters
// are pointers so that an omitted key can be told apart from zero.
type ICPSettings struct {
	MaxCorrespondenceDistance *float64 `yaml:"maxCorrespondenceDistance" json:"maxCorrespondenceDistance"`
	TransformationEpsilon     *float64 `yaml:"transformationEpsilon" json:"transformationEpsilon"`
	FitnessEpsilon            *float64 `yaml:"fitnessEpsilon" json:"fitnessEpsilon"`
	MaxIterations             *int     `yaml:"maxIterations" json:"maxIterations"`
	Reciprocal                bool     `yaml:"reciprocal,omitempty" json:"reciprocal,omitempty"`
	Timeout                   string   `yaml:"timeout,omitempty" json:"timeout,omitempty"` // Go duration, e.g. "5s"
}

const (
	// DefaultFrameID matches the coordinate frame label of the camera rig
	DefaultFrameID = "/camera_link"

	// DefaultQueueSize is the number of frames buffered ahead of the worker
	DefaultQueueSize = 64

	// DefaultInputTopic is where the segmented object cloud arrives
	DefaultInputTopic = "camera_link/moving_object"

	// DefaultPublishPrefix is the topic prefix for all outputs
	DefaultPublishPrefix = "cloudtrack"
)

// GetFrameID returns the configured frame label or the default
func (c *Config) GetFrameID() string {
	if c.FrameID != "" {
		return c.FrameID
	}
	return DefaultFrameID
}

// GetQueueSize returns the configured queue size or the default
func (c *Config) GetQueueSize() int {
	if c.QueueSize > 0 {
		return c.QueueSize
	}
	return DefaultQueueSize
}

// GetInputTopic returns the configured input topic or the default
func (c *Config) GetInputTopic() string {
	if c.MQTT.InputTopic != "" {
		return c.MQTT.InputTopic
	}
	return DefaultInputTopic
}
