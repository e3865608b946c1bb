package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/kwv/cloudtrack/track"
)

// statusResponse is the body of GET /status
type statusResponse struct {
	Latest           *track.CycleSummary `json:"latest,omitempty"`
	Counters         track.Counters      `json:"counters"`
	LastError        string              `json:"lastError,omitempty"`
	TrajectoryLength float64             `json:"trajectoryLength"`
	InputTopic       string              `json:"inputTopic,omitempty"`
	FrameID          string              `json:"frameId,omitempty"`
	Timestamp        time.Time           `json:"timestamp"`
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(stateTracker *track.StateTracker, config *track.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status        string    `json:"status"`
			Timestamp     time.Time `json:"timestamp"`
			HasTrajectory bool      `json:"hasTrajectory"`
		}{
			Status:        "ok",
			Timestamp:     time.Now(),
			HasTrajectory: stateTracker.HasTrajectory(),
		}
		writeJSON(w, status)
	})

	// Latest cycle and counters
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Counters:         stateTracker.Counters(),
			LastError:        stateTracker.LastError(),
			TrajectoryLength: stateTracker.TrajectoryLength(),
			Timestamp:        time.Now(),
		}
		if latest, ok := stateTracker.Latest(); ok {
			resp.Latest = latest
		}
		if config != nil {
			resp.InputTopic = config.GetInputTopic()
			resp.FrameID = config.GetFrameID()
		}
		writeJSON(w, resp)
	})

	// Tracked object path
	mux.HandleFunc("/trajectory.geojson", func(w http.ResponseWriter, r *http.Request) {
		if !stateTracker.HasTrajectory() {
			http.Error(w, "No trajectory available", http.StatusServiceUnavailable)
			return
		}
		data, err := json.Marshal(stateTracker.TrajectoryGeoJSON())
		if err != nil {
			log.Printf("Error encoding trajectory: %v", err)
			http.Error(w, "Error encoding trajectory", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(data)
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
