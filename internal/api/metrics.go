package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/hwsim/internal/device"
	"github.com/nerrad567/hwsim/internal/dispatch"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	Dispatcher    *dispatch.Stats `json:"dispatcher,omitempty"`
	Devices       DeviceMetrics   `json:"devices"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// DeviceMetrics counts devices by kind and status.
type DeviceMetrics struct {
	Total    int                   `json:"total"`
	ByKind   map[device.Kind]int   `json:"by_kind"`
	ByStatus map[device.Status]int `json:"by_status"`
	Running  int                   `json:"running_processes"`
}

// handleMetrics returns runtime, transport and device counters.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Devices: DeviceMetrics{
			ByKind:   make(map[device.Kind]int),
			ByStatus: make(map[device.Status]int),
		},
	}
	if s.hub != nil {
		metrics.WebSocket.ConnectedClients = s.hub.ClientCount()
	}
	if s.stats != nil {
		stats := s.stats.Stats()
		metrics.Dispatcher = &stats
	}

	for _, d := range s.devices.Devices() {
		metrics.Devices.Total++
		metrics.Devices.ByKind[d.Kind()]++
		metrics.Devices.ByStatus[d.Status()]++
		if pr, ok := d.(device.ProcessRunner); ok && pr.ProcessStats().Running != "" {
			metrics.Devices.Running++
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
