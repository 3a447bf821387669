package router

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/xpod/core/cmn"
	"github.com/xpod/core/directory"
	"github.com/xpod/core/migration"
)

// MigrationAPI is the migration HTTP surface of spec §6 and §4.E.
type MigrationAPI struct {
	Dir    *directory.Directory
	Engine *migration.Engine
	// Staged, when true, routes POST .../migrate through the staged
	// pipeline (spec §4.E: "staged ... must be used when the accessor has
	// real per-region buckets") instead of the simplified single-flip mode.
	Staged       bool
	TargetRegion string
}

func (m *MigrationAPI) Register(r *mux.Router) {
	r.HandleFunc("/.cluster/pods", m.listPods).Methods(http.MethodGet)
	r.HandleFunc("/.cluster/pods/{podId}", m.getPod).Methods(http.MethodGet)
	r.HandleFunc("/.cluster/pods/{podId}/migrate", m.migrate).Methods(http.MethodPost)
	r.HandleFunc("/.cluster/pods/{podId}/migration", m.migrationStatus).Methods(http.MethodGet)
	r.HandleFunc("/.cluster/pods/{podId}/migration", m.cancelMigration).Methods(http.MethodDelete)
}

type podDTO struct {
	PodID     string `json:"podId"`
	BaseURL   string `json:"baseUrl"`
	AccountID string `json:"accountId"`
	NodeID    string `json:"nodeId"`
}

func (m *MigrationAPI) listPods(w http.ResponseWriter, r *http.Request) {
	pods, err := m.Dir.ListAllPods()
	if err != nil {
		cmn.WriteErr(w, err)
		return
	}
	dtos := make([]podDTO, 0, len(pods))
	for _, p := range pods {
		dtos = append(dtos, podDTO{PodID: p.PodID, BaseURL: p.BaseURL, AccountID: p.AccountID, NodeID: p.NodeID})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pods": dtos})
}

func (m *MigrationAPI) getPod(w http.ResponseWriter, r *http.Request) {
	podID := mux.Vars(r)["podId"]
	p, err := m.Dir.FindByID(podID)
	if err != nil {
		cmn.WriteErr(w, err)
		return
	}
	if p == nil {
		cmn.WriteErr(w, cmn.NotFoundf("pod %s", podID))
		return
	}
	writeJSON(w, http.StatusOK, podDTO{PodID: p.PodID, BaseURL: p.BaseURL, AccountID: p.AccountID, NodeID: p.NodeID})
}

type migrateRequest struct {
	TargetNode string `json:"targetNode"`
}

func (m *MigrationAPI) migrate(w http.ResponseWriter, r *http.Request) {
	podID := mux.Vars(r)["podId"]
	var req migrateRequest
	if err := cmn.JSON.NewDecoder(r.Body).Decode(&req); err != nil {
		cmn.WriteErr(w, cmn.Wrap(cmn.KindBadRequest, "decode migrate request", err))
		return
	}

	if m.Staged {
		res, err := m.Engine.MigrateStaged(r.Context(), podID, req.TargetNode, m.TargetRegion, nil)
		if err != nil {
			cmn.WriteErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, migrateResponse(res))
		return
	}

	res, err := m.Engine.Migrate(podID, req.TargetNode)
	if err != nil {
		cmn.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, migrateResponse(res))
}

func migrateResponse(res *migration.Result) map[string]interface{} {
	return map[string]interface{}{
		"message":    "migration complete",
		"podId":      res.PodID,
		"sourceNode": res.SourceNodeID,
		"targetNode": res.TargetNodeID,
		"migratedAt": res.MigratedAt.Format(time.RFC3339),
	}
}

func (m *MigrationAPI) migrationStatus(w http.ResponseWriter, r *http.Request) {
	podID := mux.Vars(r)["podId"]
	status, target, progress, err := m.Engine.Status(podID)
	if err != nil {
		cmn.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"podId":    podID,
		"status":   status,
		"target":   target,
		"progress": progress,
	})
}

func (m *MigrationAPI) cancelMigration(w http.ResponseWriter, r *http.Request) {
	podID := mux.Vars(r)["podId"]
	if err := m.Engine.Cancel(podID); err != nil {
		cmn.WriteErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
