package router

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/xpod/core/cmn"
	"github.com/xpod/core/registry"
)

// AdminAPI is the cluster administration HTTP surface of spec §6. Grounded
// on gorilla/mux's path-variable routing (4nonX-D-PlaneOS/daemon's
// cmd/dplaned/main.go).
type AdminAPI struct {
	Reg       *registry.Registry
	JWTSecret string
}

func (a *AdminAPI) Register(r *mux.Router) {
	r.HandleFunc("/admin/nodes", requireAdminAuth(a.JWTSecret, a.listNodes)).Methods(http.MethodGet)
	r.HandleFunc("/admin/nodes", requireAdminAuth(a.JWTSecret, a.createNode)).Methods(http.MethodPost)
	r.HandleFunc("/admin/nodes", corsPreflight).Methods(http.MethodOptions)
	r.HandleFunc("/admin/nodes/{nodeId}", requireAdminAuth(a.JWTSecret, a.getNode)).Methods(http.MethodGet)
	r.HandleFunc("/admin/nodes/{nodeId}", corsPreflight).Methods(http.MethodOptions)
	r.HandleFunc("/admin/nodes/{nodeId}/capabilities", requireAdminAuth(a.JWTSecret, a.getCapabilities)).Methods(http.MethodGet)
	r.HandleFunc("/admin/nodes/{nodeId}/capabilities", corsPreflight).Methods(http.MethodOptions)
}

func corsPreflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

type nodeDTO struct {
	NodeID       string                 `json:"nodeId"`
	NodeType     registry.NodeType      `json:"nodeType"`
	AccessMode   registry.AccessMode    `json:"accessMode"`
	InternalIP   string                 `json:"internalIp,omitempty"`
	InternalPort int                    `json:"internalPort,omitempty"`
	PublicIP     string                 `json:"publicIp,omitempty"`
	PublicPort   int                    `json:"publicPort,omitempty"`
	Subdomain    string                 `json:"subdomain,omitempty"`
	Capabilities map[string]interface{} `json:"capabilities"`
	Connectivity registry.ConnectivityStatus `json:"connectivityStatus"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
	LastSeen     *time.Time             `json:"lastSeen,omitempty"`
}

func toDTO(n *registry.Node) nodeDTO {
	return nodeDTO{
		NodeID: n.NodeID, NodeType: n.NodeType, AccessMode: n.AccessMode,
		InternalIP: n.InternalIP, InternalPort: n.InternalPort,
		PublicIP: n.PublicIP, PublicPort: n.PublicPort, Subdomain: n.Subdomain,
		Capabilities: n.Capabilities, Connectivity: n.Connectivity,
		CreatedAt: n.CreatedAt, UpdatedAt: n.UpdatedAt, LastSeen: n.LastSeen,
	}
}

func (a *AdminAPI) listNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := a.Reg.ListAllNodes()
	if err != nil {
		cmn.WriteErr(w, err)
		return
	}
	dtos := make([]nodeDTO, 0, len(nodes))
	for _, n := range nodes {
		dtos = append(dtos, toDTO(n))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes":     dtos,
		"total":     len(dtos),
		"timestamp": time.Now(),
	})
}

func (a *AdminAPI) getNode(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["nodeId"]
	node, err := a.Reg.GetNodeConnectivityInfo(nodeID)
	if err != nil {
		cmn.WriteErr(w, err)
		return
	}
	if node == nil {
		cmn.WriteErr(w, cmn.NotFoundf("node %s", nodeID))
		return
	}
	writeJSON(w, http.StatusOK, toDTO(node))
}

func (a *AdminAPI) getCapabilities(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["nodeId"]
	node, err := a.Reg.GetNodeConnectivityInfo(nodeID)
	if err != nil {
		cmn.WriteErr(w, err)
		return
	}
	if node == nil {
		cmn.WriteErr(w, cmn.NotFoundf("node %s", nodeID))
		return
	}
	result := probeCapabilities(r.Context(), node)

	// The probe is the only path that can ever demote a node back to
	// unreachable (UpdateCenterNodeHeartbeat only ever advances it to
	// reachable), so persist whatever it found.
	status := registry.ConnUnreachable
	if reachable, _ := result["reachable"].(bool); reachable {
		status = registry.ConnReachable
	}
	if status != node.Connectivity {
		if err := a.Reg.UpdateNodeMode(nodeID, registry.ModeUpdate{Connectivity: &status}); err != nil {
			cmn.Component("router").Warn().Err(err).Str("nodeId", nodeID).Msg("failed to persist probed connectivity")
		}
	}

	writeJSON(w, http.StatusOK, result)
}

type createNodeRequest struct {
	DisplayName string `json:"displayName"`
}

func (a *AdminAPI) createNode(w http.ResponseWriter, r *http.Request) {
	var req createNodeRequest
	if err := cmn.JSON.NewDecoder(r.Body).Decode(&req); err != nil {
		cmn.WriteErr(w, cmn.Wrap(cmn.KindBadRequest, "decode request body", err))
		return
	}
	nodeID := cmn.NewCenterNodeID()
	_, secret, err := a.Reg.RegisterCenterNode(registry.CapabilityRegistration{
		NodeID:      nodeID,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		cmn.WriteErr(w, err)
		return
	}
	token := secret
	if a.JWTSecret != "" {
		token, err = IssueAdminToken(a.JWTSecret, nodeID)
		if err != nil {
			cmn.WriteErr(w, cmn.Wrap(cmn.KindInternal, "issue admin token", err))
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"nodeId":    nodeID,
		"token":     token,
		"createdAt": time.Now(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = cmn.JSON.NewEncoder(w).Encode(v)
}
