package router

import (
	"net/http"

	"github.com/xpod/core/cmn"
	"github.com/xpod/core/directory"
	"github.com/xpod/core/registry"
)

// EdgeDirectHandler is the edge-direct Intercept of spec §4.D: for
// direct-mode edges, responds 307 to the edge's public endpoint. Proxy-mode
// edges are declined here; their HTTP traffic is an L4 proxy's job (spec §9
// open question), only their WebSocket upgrades are handled inside the
// core (wsproxy.go).
type EdgeDirectHandler struct {
	Dir        *directory.Directory
	Reg        *registry.Registry
	ThisNodeID string
}

var _ Intercept = (*EdgeDirectHandler)(nil)

func (h *EdgeDirectHandler) CanHandle(r *http.Request) bool {
	if cmn.IsSystemPath(r.URL.Path) {
		return false
	}
	pod, err := h.Dir.FindByResourceIdentifier(requestURL(r))
	if err != nil || pod == nil || pod.NodeID == "" {
		return false
	}
	node, err := h.Reg.GetNodeConnectivityInfo(pod.NodeID)
	if err != nil || node == nil || !node.IsEdge() {
		return false
	}
	return node.AccessMode == registry.AccessDirect && node.PublicIP != ""
}

func (h *EdgeDirectHandler) Handle(w http.ResponseWriter, r *http.Request) error {
	pod, err := h.Dir.FindByResourceIdentifier(requestURL(r))
	if err != nil {
		cmn.WriteErr(w, err)
		return err
	}
	node, err := h.Reg.GetNodeConnectivityInfo(pod.NodeID)
	if err != nil {
		cmn.WriteErr(w, err)
		return err
	}

	location := "https://" + node.PublicEndpoint() + r.URL.Path
	if r.URL.RawQuery != "" {
		location += "?" + r.URL.RawQuery
	}
	w.Header().Set("Location", location)
	w.Header().Set("X-Xpod-Direct-Node", node.NodeID)
	w.WriteHeader(http.StatusTemporaryRedirect)
	return nil
}
