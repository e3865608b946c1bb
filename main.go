package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/kwv/cloudtrack/track"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line flags
type AppOptions struct {
	ConfigFile      string
	DataDir         string
	OutputFile      string
	TrajectoryCache string
	SourceURL       string
	PollInterval    time.Duration
	RegisterOnly    bool
	MqttMode        bool
	HttpMode        bool
	HttpPort        int
}

// Runner is the set of modes the command line can dispatch to
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunRegister() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatal(err)
	}
}

// run parses args, prints the banner and dispatches to the selected mode
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("cloudtrack", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.DataDir, "data-dir", ".", "Directory containing frame-*.json files for --register mode")
	fs.StringVar(&opts.OutputFile, "output", "", "Write the trajectory GeoJSON here after --register")
	fs.StringVar(&opts.TrajectoryCache, "trajectory-cache", "", "Persist the service trajectory to this file")
	fs.StringVar(&opts.SourceURL, "source-url", "", "Poll this URL for frames in service mode")
	fs.DurationVar(&opts.PollInterval, "poll-interval", track.DefaultPollInterval, "Interval between --source-url fetches")
	fs.BoolVar(&opts.RegisterOnly, "register", false, "Register frame files offline and exit")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT service mode for live registration")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server for status and trajectory")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port (default 8080)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "cloudtrack version: %s\n", Version)
	app.ApplyOptions(opts)

	if opts.RegisterOnly {
		return app.RunRegister()
	}

	if opts.MqttMode || opts.HttpMode || opts.SourceURL != "" {
		return app.RunService()
	}

	fmt.Fprintln(out, "cloudtrack: frame-to-frame point cloud registration")
	fmt.Fprintln(out, "Use --register to align frame-*.json files in --data-dir")
	fmt.Fprintln(out, "Use --mqtt to register frames arriving over MQTT")
	fmt.Fprintln(out, "Use --http to serve /health, /status and /trajectory.geojson")
	fmt.Fprintln(out, "Use --source-url to poll an HTTP endpoint for frames")
	fmt.Fprintln(out, "Use --mqtt --http to run both together")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - MQTT settings and ICP parameters")
	fmt.Fprintf(out, "  default input topic %s, output prefix %s\n", track.DefaultInputTopic, track.DefaultPublishPrefix)
	return nil
}
