package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/kwv/cloudtrack/track"
)

// App encapsulates the application state and dependencies
type App struct {
	Config       *track.Config
	StateTracker *track.StateTracker
	MQTTClient   *track.MQTTClient
	Publisher    *track.Publisher
	Out          io.Writer

	// CLI Flags (effectively dependencies)
	ConfigFile      string
	DataDir         string
	OutputFile      string
	TrajectoryCache string
	SourceURL       string
	PollInterval    time.Duration
	HttpPort        int
	MqttMode        bool
	HttpMode        bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		StateTracker: track.NewStateTracker(),
		Out:          os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.DataDir = opts.DataDir
	a.OutputFile = opts.OutputFile
	a.TrajectoryCache = opts.TrajectoryCache
	a.SourceURL = opts.SourceURL
	a.PollInterval = opts.PollInterval
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// resolveConfigPath looks for the default config.yaml inside data-dir
func (a *App) resolveConfigPath() string {
	if a.DataDir != "" && a.DataDir != "." && a.ConfigFile == "config.yaml" {
		return filepath.Join(a.DataDir, "config.yaml")
	}
	return a.ConfigFile
}

// loadRegistrar loads the config file and builds a registrar from its ICP section
func (a *App) loadRegistrar() (*track.Registrar, error) {
	path := a.resolveConfigPath()
	config, err := track.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w (looked at %s)", err, path)
	}
	a.Config = config
	log.Printf("Loaded config from %s", path)

	icpConfig, err := config.ICP.ToICPConfig()
	if err != nil {
		return nil, err
	}
	engine, err := track.NewEngine(icpConfig)
	if err != nil {
		return nil, err
	}
	return track.NewRegistrar(engine), nil
}

// findFrameFiles returns the frame-*.json files in dir in lexical order
func findFrameFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "frame-*.json"))
	if err != nil {
		return nil, fmt.Errorf("finding frame files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no frame-*.json files found in %s", dir)
	}
	sort.Strings(files)
	return files, nil
}

// RunRegister registers every frame file in data-dir against its predecessor
// and prints the outcome of each cycle
func (a *App) RunRegister() error {
	registrar, err := a.loadRegistrar()
	if err != nil {
		return err
	}

	files, err := findFrameFiles(a.DataDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Found %d frame file(s)\n\n", len(files))

	sink := track.MultiSink{a.StateTracker, track.NewLogSink(log.New(a.Out, "", 0))}
	ctx := context.Background()

	for _, file := range files {
		fmt.Fprintf(a.Out, "=== %s ===\n", filepath.Base(file))

		frame, err := track.ParseFrameFile(file)
		if err != nil {
			fmt.Fprintf(a.Out, "ERROR: %v\n\n", err)
			a.StateTracker.RecordDecodeError(err)
			continue
		}

		out, err := registrar.ProcessFrame(ctx, frame)
		if err != nil {
			fmt.Fprintf(a.Out, "ERROR: %v\n\n", err)
			a.StateTracker.RecordFailure(err)
			continue
		}
		a.printCycle(out)
		if err := sink.PublishCycle(out); err != nil {
			return err
		}
		fmt.Fprintln(a.Out)
	}

	c := a.StateTracker.Counters()
	fmt.Fprintf(a.Out, "Cycles: %d registered, %d skipped, %d failed, %d unreadable\n",
		c.Registered, c.Skipped, c.Failed, c.DecodeErrors)
	fmt.Fprintf(a.Out, "Trajectory length (xy): %.6f\n", a.StateTracker.TrajectoryLength())

	if a.OutputFile != "" {
		data, err := json.MarshalIndent(a.StateTracker.TrajectoryGeoJSON(), "", "  ")
		if err != nil {
			return fmt.Errorf("encoding trajectory: %w", err)
		}
		if err := os.WriteFile(a.OutputFile, data, 0644); err != nil {
			return fmt.Errorf("writing trajectory: %w", err)
		}
		fmt.Fprintf(a.Out, "Saved trajectory to %s\n", a.OutputFile)
	}
	return nil
}

func (a *App) printCycle(out *track.CycleOutput) {
	fmt.Fprintf(a.Out, "Cycle %d (%d points)\n", out.Sequence, out.Current.Len())
	if !out.Registered {
		fmt.Fprintf(a.Out, "Skipped: %s\n", out.SkipReason)
		return
	}
	r := out.Result
	fmt.Fprintf(a.Out, "Iterations: %d, converged: %v, fitness: %.6g, pairs: %d\n",
		r.Iterations, r.Converged, r.Fitness, r.Correspondences)
	if r.Degenerate {
		fmt.Fprintln(a.Out, "Warning: too few correspondences, transform is partial")
	}
	t := r.Transform.T
	fmt.Fprintf(a.Out, "Translation: (%.6f, %.6f, %.6f), rotation: %.4f rad\n",
		t.X, t.Y, t.Z, r.Transform.RotationAngle())
}

// RunService starts the combined MQTT and/or HTTP service
func (a *App) RunService() error {
	fmt.Fprintln(a.Out, "Starting cloudtrack service...")

	registrar, err := a.loadRegistrar()
	if err != nil {
		return err
	}
	config := a.Config

	if a.TrajectoryCache != "" {
		a.StateTracker = track.NewStateTrackerWithCache(a.TrajectoryCache)
		log.Printf("Trajectory cache: %s", a.TrajectoryCache)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks := track.MultiSink{a.StateTracker, track.NewLogSink(nil)}
	var pipeline *cyclePipeline

	// Frames queue up until the worker starts below, once every sink exists
	if a.MqttMode || a.SourceURL != "" {
		pipeline = newCyclePipeline(registrar, nil, a.StateTracker, config.GetQueueSize())
	}
	handler := func(rawPayload []byte, frame *track.Frame, err error) {
		if err != nil {
			a.StateTracker.RecordDecodeError(err)
			return
		}
		if err := pipeline.Submit(ctx, frame); err != nil {
			log.Printf("[PIPELINE] frame not queued: %v", err)
		}
	}

	if a.MqttMode {
		mqttClient, err := track.InitMQTT(config, handler)
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if mqttClient == nil {
			return errors.New("MQTT broker not configured in config.yaml")
		}
		a.MQTTClient = mqttClient

		publisher := track.NewPublisher(mqttClient.GetClient(), config.GetFrameID())
		if os.Getenv("MQTT_PUBLISH_PREFIX") == "" {
			publisher.SetPrefix(config.MQTT.PublishPrefix)
		}
		publisher.SetRetain(config.MQTT.Retain)
		a.Publisher = publisher
		fmt.Fprintln(a.Out, "MQTT cycle publisher initialized")
		sinks = append(sinks, publisher)
	}

	var pollDone chan struct{}
	if pipeline != nil {
		pipeline.sink = sinks
		go pipeline.Run(context.Background())

		if a.SourceURL != "" {
			pollDone = make(chan struct{})
			go func() {
				defer close(pollDone)
				track.PollFrames(ctx, a.SourceURL, a.PollInterval, handler)
			}()
		}
	}

	var server *http.Server
	if a.HttpMode {
		server = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a.StateTracker, config),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] Server error: %v", err)
				stop()
			}
		}()
	}

	a.printServiceInfo()
	<-ctx.Done()

	fmt.Fprintln(a.Out, "\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	if pollDone != nil {
		<-pollDone
	}
	if pipeline != nil {
		pipeline.Close()
		<-pipeline.Done()
	}
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] Shutdown error: %v", err)
		}
	}
	fmt.Fprintln(a.Out, "Service stopped")
	return nil
}

func (a *App) printServiceInfo() {
	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")

	if a.MqttMode {
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintf(a.Out, "  Subscribed topic: %s\n", a.Config.GetInputTopic())
		if a.Publisher != nil {
			for _, suffix := range []string{track.TopicPreviousCloud, track.TopicCurrentCloud, track.TopicAlignedCloud, track.TopicPose, track.TopicError} {
				fmt.Fprintf(a.Out, "  Publishing to: %s\n", a.Publisher.Topic(suffix))
			}
		}
	}

	if a.SourceURL != "" {
		fmt.Fprintf(a.Out, "\nPolling %s every %v\n", a.SourceURL, a.PollInterval)
	}

	if a.HttpMode {
		fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(a.Out, "  GET /health             - Health check")
		fmt.Fprintln(a.Out, "  GET /status             - Latest cycle and counters")
		fmt.Fprintln(a.Out, "  GET /trajectory.geojson - Tracked object path")
	}

	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")
}
