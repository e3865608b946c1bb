package track

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// registeredCycle runs two frames through a registrar and returns the second cycle
func registeredCycle(t *testing.T) *CycleOutput {
	t.Helper()
	r := newTestRegistrar(t)
	rng := rand.New(rand.NewSource(17))
	first := createRandomFrame(120, 10, rng)
	second := Translation(0.05, 0, 0).ApplyFrame(first)

	_, err := r.ProcessFrame(context.Background(), first)
	require.NoError(t, err)
	out, err := r.ProcessFrame(context.Background(), second)
	require.NoError(t, err)
	require.True(t, out.Registered)
	return out
}

func TestNewPublisher_Defaults(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	p := NewPublisher(nil, "")

	assert.Equal(t, DefaultPublishPrefix, p.publishPrefix)
	assert.Equal(t, DefaultFrameID, p.frameID)
	assert.Equal(t, byte(0), p.qos)
	assert.False(t, p.retain)
	assert.Equal(t, "cloudtrack/pose", p.Topic(TopicPose))
}

func TestNewPublisher_EnvPrefix(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "lab")
	p := NewPublisher(nil, "/rig")
	assert.Equal(t, "lab/icp_align", p.Topic(TopicAlignedCloud))

	p.SetPrefix("")
	assert.Equal(t, "lab", p.publishPrefix)
	p.SetPrefix("other")
	assert.Equal(t, "other/error", p.Topic(TopicError))
}

func TestPublisher_SetQoSAndRetain(t *testing.T) {
	p := NewPublisher(nil, "")
	p.SetQoS(1)
	assert.Equal(t, byte(1), p.qos)
	p.SetQoS(3)
	assert.Equal(t, byte(1), p.qos, "invalid QoS must be ignored")
	p.SetRetain(true)
	assert.True(t, p.retain)
}

func TestPublisher_NotConnected(t *testing.T) {
	out := registeredCycle(t)

	assert.Error(t, NewPublisher(nil, "").PublishCycle(out))
	assert.Error(t, NewPublisher(NewMockClient(), "").PublishCycle(out))
}

func TestPublisher_SkippedCyclePublishesNothing(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	p := NewPublisher(client, "")

	require.NoError(t, p.PublishCycle(&CycleOutput{Sequence: 1, SkipReason: "no previous frame"}))
	require.NoError(t, p.PublishCycle(nil))
	assert.Empty(t, client.GetPublishedMessages())
}

func TestPublisher_TopicLayout(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	client := NewMockClient()
	client.SetConnected(true)
	p := NewPublisher(client, "/camera_link")
	p.SetRetain(true)

	out := registeredCycle(t)
	require.NoError(t, p.PublishCycle(out))

	msgs := client.GetPublishedMessages()
	topics := make([]string, len(msgs))
	for i, m := range msgs {
		topics[i] = m.Topic
		assert.True(t, m.Retain)
	}
	assert.Equal(t, []string{
		"cloudtrack/model_t0",
		"cloudtrack/model_t1",
		"cloudtrack/icp_align",
		"cloudtrack/pose",
		"cloudtrack/error",
	}, topics)

	// Clouds carry the cycle id and the configured label
	msg, ok := client.LastPublished("cloudtrack/model_t1")
	require.True(t, ok)
	var current CloudMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &current))
	assert.Equal(t, out.ID, current.CycleID)
	assert.Equal(t, "/camera_link", current.FrameID)
	assert.Len(t, current.Points, 120)
	assert.Equal(t, uint8(200), current.Points[0].R)

	// The aligned cloud has its red channel cleared, other channels intact
	msg, ok = client.LastPublished("cloudtrack/icp_align")
	require.True(t, ok)
	var aligned CloudMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &aligned))
	require.Len(t, aligned.Points, 120)
	for _, pt := range aligned.Points {
		assert.Equal(t, uint8(0), pt.R)
		assert.Equal(t, uint8(100), pt.G)
	}
	assert.Equal(t, uint8(200), out.Result.Aligned.Points[0].R, "published copy must not alter the result")

	msg, ok = client.LastPublished("cloudtrack/pose")
	require.True(t, ok)
	var pose PoseMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &pose))
	assert.Equal(t, out.Sequence, pose.Sequence)
	assert.InDelta(t, 0.05, pose.Transform[3], 1e-6)
	require.NotNil(t, pose.Pose)
	assert.InDelta(t, 0.05, pose.Pose.Position.X, 1e-6)

	msg, ok = client.LastPublished("cloudtrack/error")
	require.True(t, ok)
	var errMsg ErrorMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &errMsg))
	assert.Equal(t, out.Error.String(), errMsg.Summary)
	assert.True(t, strings.HasPrefix(errMsg.Summary, "x_error: "))
}

func TestPublisher_PublishError(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	client.SetPublishError(errors.New("boom"))

	err := NewPublisher(client, "").PublishCycle(registeredCycle(t))
	assert.ErrorContains(t, err, "boom")
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(log.New(&buf, "", 0))

	out := &CycleOutput{
		Registered: true,
		Error:      AlignmentError{X: AxisError{Percent: 1.5, Defined: true}},
	}
	require.NoError(t, sink.PublishCycle(out))
	assert.Equal(t, "x_error: 1.500 percent, y_error: undefined, z_error: undefined\n", buf.String())

	buf.Reset()
	require.NoError(t, sink.PublishCycle(&CycleOutput{Sequence: 4, SkipReason: "frame size mismatch"}))
	assert.Contains(t, buf.String(), "cycle 4 skipped")
}

type failingSink struct{ err error }

func (f failingSink) PublishCycle(*CycleOutput) error { return f.err }

func TestMultiSink(t *testing.T) {
	st := NewStateTracker()
	errA := errors.New("a")
	sinks := MultiSink{st, nil, failingSink{errA}}

	err := sinks.PublishCycle(&CycleOutput{Sequence: 1})
	assert.ErrorIs(t, err, errA)
	assert.Equal(t, uint64(1), st.Counters().Processed)

	assert.NoError(t, MultiSink{st}.PublishCycle(&CycleOutput{Sequence: 2}))
}
