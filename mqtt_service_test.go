package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kwv/cloudtrack/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, sink track.CycleSink, state *track.StateTracker, queueSize int) *cyclePipeline {
	t.Helper()
	engine, err := track.NewEngine(track.ICPConfig{
		MaxCorrespondenceDistance: 1,
		TransformationEpsilon:     1e-10,
		FitnessEpsilon:            1e-12,
		MaxIterations:             30,
	})
	require.NoError(t, err)
	return newCyclePipeline(track.NewRegistrar(engine), sink, state, queueSize)
}

// TestMQTTServiceConfigLoading tests configuration loading for MQTT service
func TestMQTTServiceConfigLoading(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		shouldError bool
		errorMsg    string
	}{
		{
			name:       "valid config",
			configYAML: testConfigYAML,
		},
		{
			name: "missing icp section",
			configYAML: `mqtt:
  broker: "mqtt://localhost:1883"
`,
			shouldError: true,
			errorMsg:    "icp.maxCorrespondenceDistance is required",
		},
		{
			name: "negative distance",
			configYAML: `icp:
  maxCorrespondenceDistance: -1
  transformationEpsilon: 1e-8
  fitnessEpsilon: 1e-8
  maxIterations: 10
`,
			shouldError: true,
			errorMsg:    "maxCorrespondenceDistance must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.configYAML), 0644))

			app := NewApp()
			app.ApplyOptions(AppOptions{ConfigFile: path, DataDir: "."})
			_, err := app.loadRegistrar()

			if tt.shouldError {
				assert.ErrorContains(t, err, tt.errorMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "/camera_link", app.Config.GetFrameID())
		})
	}
}

func TestRunService_NoBroker(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	dir := t.TempDir()
	body := `icp:
  maxCorrespondenceDistance: 1
  transformationEpsilon: 1e-8
  fitnessEpsilon: 1e-8
  maxIterations: 10
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0644))

	app, _ := newTestApp(dir)
	app.MqttMode = true
	assert.ErrorContains(t, app.RunService(), "MQTT broker not configured")
}

// TestPipeline_PublishesInOrder runs frames through the worker into an MQTT publisher
func TestPipeline_PublishesInOrder(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	client := track.NewMockClient()
	client.SetConnected(true)
	publisher := track.NewPublisher(client, "/camera_link")
	state := track.NewStateTracker()

	p := newTestPipeline(t, track.MultiSink{state, publisher}, state, 2)
	go p.Run(context.Background())

	frame := createTestFrame(80, 9)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Submit(ctx, frame))
		frame = track.Translation(0.05, 0, 0).ApplyFrame(frame)
	}
	p.Close()

	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not drain")
	}

	c := state.Counters()
	assert.Equal(t, uint64(4), c.Processed)
	assert.Equal(t, uint64(3), c.Registered)

	var sequences []uint64
	for _, m := range client.GetPublishedMessages() {
		if m.Topic != "cloudtrack/pose" {
			continue
		}
		var pose track.PoseMessage
		require.NoError(t, json.Unmarshal(m.Payload, &pose))
		sequences = append(sequences, pose.Sequence)
	}
	assert.Equal(t, []uint64{2, 3, 4}, sequences)
}

func TestPipeline_SubmitAfterClose(t *testing.T) {
	p := newTestPipeline(t, nil, nil, 1)
	go p.Run(context.Background())
	p.Close()
	p.Close()

	err := p.Submit(context.Background(), createTestFrame(3, 1))
	assert.ErrorIs(t, err, errPipelineClosed)
	<-p.Done()
}

func TestPipeline_SubmitBlocksWhenFull(t *testing.T) {
	p := newTestPipeline(t, nil, nil, 1)

	// No worker yet: the first frame fills the queue, the second waits
	require.NoError(t, p.Submit(context.Background(), createTestFrame(3, 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, createTestFrame(3, 2))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go p.Run(context.Background())
	p.Close()
	<-p.Done()
}

func TestPipeline_RecordsFailures(t *testing.T) {
	state := track.NewStateTracker()
	p := newTestPipeline(t, state, state, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	frame := createTestFrame(20, 4)
	require.NoError(t, p.Submit(context.Background(), frame))
	require.NoError(t, p.Submit(context.Background(), frame))
	p.Close()
	p.Run(ctx)

	c := state.Counters()
	assert.Equal(t, uint64(1), c.Skipped)
	assert.Equal(t, uint64(1), c.Failed)
	assert.Contains(t, state.LastError(), "context canceled")
}
