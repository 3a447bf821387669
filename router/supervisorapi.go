package router

import (
	"net/http"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/xpod/core/cmn"
	"github.com/xpod/core/supervisor"
)

// SupervisorAPI is the supervisor HTTP surface of spec §6: per-service
// status, a filtered tail of the ring-buffered log stream, and a
// self-relaunch trigger. The restart trigger lives under /api/admin and is
// gated the same way as the rest of the admin surface (router/admin.go);
// status and logs are left unauthenticated readouts for local health checks.
type SupervisorAPI struct {
	Sup       *supervisor.Supervisor
	JWTSecret string
}

func (a *SupervisorAPI) Register(r *mux.Router) {
	r.HandleFunc("/service/status", a.status).Methods(http.MethodGet)
	r.HandleFunc("/service/logs", a.logs).Methods(http.MethodGet)
	r.HandleFunc("/api/admin/restart", requireAdminAuth(a.JWTSecret, a.restart)).Methods(http.MethodPost)
}

type serviceStatusDTO struct {
	Name         string     `json:"name"`
	Status       string     `json:"status"`
	Pid          int        `json:"pid,omitempty"`
	Uptime       string     `json:"uptime,omitempty"`
	RestartCount int        `json:"restartCount"`
	LastExitCode *int       `json:"lastExitCode,omitempty"`
	StartTime    *time.Time `json:"-"`
}

func (a *SupervisorAPI) status(w http.ResponseWriter, r *http.Request) {
	statuses := a.Sup.GetAllStatus()
	dtos := make([]serviceStatusDTO, 0, len(statuses))
	for _, st := range statuses {
		dto := serviceStatusDTO{
			Name:         st.Name,
			Status:       string(st.Status),
			RestartCount: st.RestartCount,
		}
		if st.Status == supervisor.StatusRunning || st.Status == supervisor.StatusStarting {
			dto.Pid = st.Pid
			dto.Uptime = time.Since(st.StartTime).Round(time.Second).String()
		} else {
			code := st.LastExitCode
			dto.LastExitCode = &code
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": dtos})
}

func (a *SupervisorAPI) logs(w http.ResponseWriter, r *http.Request) {
	level := r.URL.Query().Get("level")
	source := r.URL.Query().Get("source")
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}

	type logDTO struct {
		Timestamp time.Time `json:"timestamp"`
		Level     string    `json:"level"`
		Source    string    `json:"source"`
		Message   string    `json:"message"`
	}
	var out []logDTO
	for _, e := range a.Sup.GetLogs() {
		if level != "" && e.Level != level {
			continue
		}
		if source != "" && e.Source != source {
			continue
		}
		out = append(out, logDTO{Timestamp: e.Timestamp, Level: e.Level, Source: e.Source, Message: e.Message})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": out})
}

// restart signals the parent process with SIGUSR1 (spec §6: "the parent
// treats this as relaunch me") -- the node process itself never re-execs.
func (a *SupervisorAPI) restart(w http.ResponseWriter, r *http.Request) {
	if err := syscall.Kill(os.Getppid(), syscall.SIGUSR1); err != nil {
		cmn.WriteErr(w, cmn.Wrap(cmn.KindInternal, "signal parent for restart", err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
