package router

import (
	"context"
	"net/http"

	"github.com/xpod/core/cmn"
	"github.com/xpod/core/registry"
)

// probeCapabilities implements spec SPEC_FULL.md §4.I: a bounded
// reachability probe against the node's registered endpoint, merged with
// its self-reported capabilities map. Grounded on the public-IP-detection
// timeout pattern named in spec §5 (cmn.PublicIPProbeTimeout, 3s).
func probeCapabilities(ctx context.Context, node *registry.Node) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range node.Capabilities {
		out[k] = v
	}

	endpoint := node.InternalEndpoint()
	scheme := "http"
	if endpoint == "" {
		endpoint = node.PublicEndpoint()
		scheme = "https"
	}
	if endpoint == "" {
		out["reachable"] = false
		return out
	}

	probeCtx, cancel := context.WithTimeout(ctx, cmn.PublicIPProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, scheme+"://"+endpoint+"/.well-known/xpod", nil)
	if err != nil {
		out["reachable"] = false
		return out
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		out["reachable"] = false
		return out
	}
	defer resp.Body.Close()
	out["reachable"] = resp.StatusCode < 500
	return out
}
