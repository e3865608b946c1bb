package track

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// CycleSink receives the output of every registration cycle
type CycleSink interface {
	PublishCycle(out *CycleOutput) error
}

// Topic suffixes under the publish prefix
const (
	TopicPreviousCloud = "model_t0"
	TopicCurrentCloud  = "model_t1"
	TopicAlignedCloud  = "icp_align"
	TopicPose          = "pose"
	TopicError         = "error"
)

// CloudMessage is the payload of the three cloud topics
type CloudMessage struct {
	CycleID  uuid.UUID `json:"cycleId"`
	Sequence uint64    `json:"sequence"`
	FrameID  string    `json:"frameId"`
	Stamp    time.Time `json:"stamp"`
	Points   []Point   `json:"points"`
}

// PoseMessage is the payload of the pose topic
type PoseMessage struct {
	CycleID         uuid.UUID   `json:"cycleId"`
	Sequence        uint64      `json:"sequence"`
	Pose            *Pose       `json:"pose"`
	Transform       [16]float64 `json:"transform"` // row-major 4x4
	Fitness         float64     `json:"fitness"`
	Iterations      int         `json:"iterations"`
	Converged       bool        `json:"converged"`
	Degenerate      bool        `json:"degenerate"`
	Correspondences int         `json:"correspondences"`
}

// ErrorMessage is the payload of the error topic
type ErrorMessage struct {
	CycleID  uuid.UUID      `json:"cycleId"`
	Sequence uint64         `json:"sequence"`
	Error    AlignmentError `json:"error"`
	Summary  string         `json:"summary"`
}

// Publisher publishes registration results to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	frameID       string
	qos           byte
	retain        bool
}

// NewPublisher creates a cycle publisher.
// Clouds are tagged with frameID; an empty frameID uses DefaultFrameID.
func NewPublisher(client mqtt.Client, frameID string) *Publisher {
	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}
	if frameID == "" {
		frameID = DefaultFrameID
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		frameID:       frameID,
		qos:           0,
		retain:        false,
	}
}

// PublishCycle publishes the clouds, pose and error of a registered cycle.
// Skipped cycles publish nothing.
func (p *Publisher) PublishCycle(out *CycleOutput) error {
	if out == nil || !out.Registered || out.Result == nil {
		return nil
	}
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	var errs []error
	publish := func(suffix string, v any) {
		if err := p.publishJSON(suffix, v); err != nil {
			errs = append(errs, err)
		}
	}

	publish(TopicPreviousCloud, p.cloudMessage(out, out.Previous, false))
	publish(TopicCurrentCloud, p.cloudMessage(out, out.Current, false))
	publish(TopicAlignedCloud, p.cloudMessage(out, out.Result.Aligned, true))

	publish(TopicPose, PoseMessage{
		CycleID:         out.ID,
		Sequence:        out.Sequence,
		Pose:            out.Pose,
		Transform:       out.Result.Transform.Matrix(),
		Fitness:         out.Result.Fitness,
		Iterations:      out.Result.Iterations,
		Converged:       out.Result.Converged,
		Degenerate:      out.Result.Degenerate,
		Correspondences: out.Result.Correspondences,
	})
	publish(TopicError, ErrorMessage{
		CycleID:  out.ID,
		Sequence: out.Sequence,
		Error:    out.Error,
		Summary:  out.Error.String(),
	})

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Printf("[PUBLISH] cycle %d: %s", out.Sequence, out.Error)
	return nil
}

// cloudMessage tags a frame with the configured label.
// The aligned cloud has its red channel cleared so it stands apart in viewers.
func (p *Publisher) cloudMessage(out *CycleOutput, f *Frame, clearRed bool) CloudMessage {
	msg := CloudMessage{
		CycleID:  out.ID,
		Sequence: out.Sequence,
		FrameID:  p.frameID,
		Points:   []Point{},
	}
	if f == nil {
		return msg
	}
	msg.Stamp = f.Stamp
	msg.Points = make([]Point, len(f.Points))
	copy(msg.Points, f.Points)
	if clearRed {
		for i := range msg.Points {
			msg.Points[i].R = 0
		}
	}
	return msg
}

func (p *Publisher) publishJSON(suffix string, v any) error {
	topic := p.Topic(suffix)

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", suffix, err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// Topic returns the full topic for a suffix
func (p *Publisher) Topic(suffix string) string {
	return fmt.Sprintf("%s/%s", p.publishPrefix, suffix)
}

// SetPrefix overrides the topic prefix
func (p *Publisher) SetPrefix(prefix string) {
	if prefix != "" {
		p.publishPrefix = prefix
	}
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}

// LogSink writes the per-axis error of every registered cycle to the log
type LogSink struct {
	logger *log.Logger
}

// NewLogSink logs through logger, or the standard logger when nil
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSink{logger: logger}
}

// PublishCycle implements CycleSink
func (s *LogSink) PublishCycle(out *CycleOutput) error {
	if out == nil {
		return nil
	}
	if !out.Registered {
		if out.SkipReason != "" {
			s.logger.Printf("cycle %d skipped: %s", out.Sequence, out.SkipReason)
		}
		return nil
	}
	s.logger.Println(out.Error.String())
	return nil
}

// MultiSink fans a cycle out to several sinks, collecting their errors
type MultiSink []CycleSink

// PublishCycle implements CycleSink
func (m MultiSink) PublishCycle(out *CycleOutput) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.PublishCycle(out); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
