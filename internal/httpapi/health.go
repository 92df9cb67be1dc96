package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/mem"

	"mlxd/pkg/types"
)

var processStart = time.Now()

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	registryOK := s.svc.RegistryHealthy()

	workers := []types.WorkerStatus{}
	for _, st := range s.svc.Workers() {
		ws := types.WorkerStatus{Slot: st.ID, Busy: st.Busy}
		if st.Model != nil {
			ws.Model = st.Model.Identifier
		}
		if !st.LastUsed.IsZero() {
			ws.LastUsed = st.LastUsed.Unix()
		}
		workers = append(workers, ws)
	}

	resp := types.HealthResponse{
		Status:         "ok",
		RegistryOK:     registryOK,
		UptimeSeconds:  int64(time.Since(processStart).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
		Workers:        workers,
		Scheduler:      s.svc.Status(),
		Metrics:        s.svc.Metrics(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.Memory = types.MemoryStatus{
			TotalBytes:     vm.Total,
			AvailableBytes: vm.Available,
			UsedPercent:    vm.UsedPercent,
		}
	}
	if !registryOK {
		resp.Status = "degraded"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSONBody(w, resp)
		return
	}
	writeJSON(w, resp)
}

// handleReload re-enables a model disabled by the consecutive-failure policy.
func (s *server) handleReload(w http.ResponseWriter, r *http.Request) {
	id := normalizeModelName(chi.URLParam(r, "id"))
	if err := s.svc.ReloadModel(id); err != nil {
		writeServiceError(w, err, false)
		return
	}
	w.WriteHeader(http.StatusOK)
}
