package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/hwsim/internal/device"
	"github.com/nerrad567/hwsim/internal/process"
)

// DeviceView is the JSON form of a device.
type DeviceView struct {
	Alias   string         `json:"alias"`
	Kind    device.Kind    `json:"kind"`
	Address string         `json:"address,omitempty"`
	Status  device.Status  `json:"status"`
	Config  string         `json:"config"`
	Process *process.Stats `json:"process,omitempty"`
}

func viewOf(d device.Device) DeviceView {
	v := DeviceView{
		Alias:   d.Alias(),
		Kind:    d.Kind(),
		Address: d.Address(),
		Status:  d.Status(),
		Config:  d.Config(),
	}
	if pr, ok := d.(device.ProcessRunner); ok {
		stats := pr.ProcessStats()
		v.Process = &stats
	}
	return v
}

// handleListDevices returns every device in declaration order.
//
// Query parameters:
//   - kind: filter by kind (led, temperature, power, expander)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var kind device.Kind
	if v := r.URL.Query().Get("kind"); v != "" {
		k, err := device.ParseKind(v)
		if err != nil {
			writeBadRequest(w, "unknown kind: "+v)
			return
		}
		kind = k
	}

	views := make([]DeviceView, 0)
	for _, d := range s.devices.Devices() {
		if kind != "" && d.Kind() != kind {
			continue
		}
		views = append(views, viewOf(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

// handleGetDevice returns one device by alias.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	for _, d := range s.devices.Devices() {
		if d.Alias() == alias {
			writeJSON(w, http.StatusOK, viewOf(d))
			return
		}
	}
	writeNotFound(w, "device not found")
}
