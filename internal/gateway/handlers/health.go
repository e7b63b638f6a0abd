package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	startTime time.Time
	startOnce sync.Once
)

// InitStartTime pins the gateway start time for uptime reporting.
// Called once when the server starts.
func InitStartTime() {
	startOnce.Do(func() {
		startTime = time.Now()
	})
}

// HealthResponse describes the harness state reported on /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   int64  `json:"uptime"`
	AppDir   string `json:"appDir"`
	Manifest string `json:"manifest"`
}

// HealthHandler reports gateway uptime and whether the served app's
// manifest file is still present.
func HealthHandler(version, appDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(0)
		if !startTime.IsZero() {
			uptime = int64(time.Since(startTime).Seconds())
		}

		manifestState := "ok"
		if _, err := os.Stat(filepath.Join(appDir, "manifest.json")); err != nil {
			manifestState = "missing"
		}

		SendJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  version,
			Uptime:   uptime,
			AppDir:   appDir,
			Manifest: manifestState,
		})
	}
}
