package router

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/xpod/core/cmn"
	"github.com/xpod/core/directory"
	"github.com/xpod/core/metrics"
	"github.com/xpod/core/registry"
)

// PodRoutingHandler is the pod-routing Intercept of spec §4.D: declines on
// system paths and on pods it already owns, otherwise reverse-proxies to
// the owning peer center.
type PodRoutingHandler struct {
	Enabled    bool
	Dir        *directory.Directory
	Reg        *registry.Registry
	ThisNodeID string
	// Client is the outbound HTTP client used to reach peer centers;
	// defaults to http.DefaultClient when nil.
	Client *http.Client
}

var _ Intercept = (*PodRoutingHandler)(nil)

func (h *PodRoutingHandler) CanHandle(r *http.Request) bool {
	if !h.Enabled || cmn.IsSystemPath(r.URL.Path) {
		return false
	}
	pod, err := h.Dir.FindByResourceIdentifier(requestURL(r))
	if err != nil || pod == nil {
		return false
	}
	return pod.NodeID != "" && pod.NodeID != h.ThisNodeID
}

// requestURL reconstructs the URL the pod directory's baseUrl entries are
// keyed against: always https, regardless of how this hop was reached.
func requestURL(r *http.Request) string {
	return "https://" + r.Host + r.URL.Path
}

// Handle implements the proxy described in spec §4.D: resolve the target
// node's endpoint (internal first, public fallback), build the downstream
// request, forward it, and stream back the response.
func (h *PodRoutingHandler) Handle(w http.ResponseWriter, r *http.Request) error {
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
	if node == nil {
		err = cmn.NotFoundf("owning node %s not registered", pod.NodeID)
		cmn.WriteErr(w, err)
		return err
	}

	targetBase, scheme := node.InternalEndpoint(), "http"
	if targetBase == "" {
		targetBase, scheme = node.PublicEndpoint(), "https"
	}
	if targetBase == "" {
		err = cmn.Wrap(cmn.KindUpstreamFailure, "peer node has no reachable endpoint", nil)
		cmn.WriteErr(w, err)
		return err
	}

	downstreamURL := scheme + "://" + targetBase + r.URL.Path
	if r.URL.RawQuery != "" {
		downstreamURL += "?" + r.URL.RawQuery
	}

	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		buf, rerr := io.ReadAll(r.Body)
		if rerr != nil {
			err = cmn.Wrap(cmn.KindInternal, "read request body for proxy", rerr)
			cmn.WriteErr(w, err)
			return err
		}
		body = bytes.NewReader(buf)
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, downstreamURL, body)
	if err != nil {
		err = cmn.Wrap(cmn.KindInternal, "build proxy request", err)
		cmn.WriteErr(w, err)
		return err
	}
	copyHeadersExceptHost(outReq.Header, r.Header)
	appendForwardedHeaders(outReq.Header, r)
	outReq.Header.Set("X-Xpod-Source-Node", h.ThisNodeID)

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	timer := metrics.NewTimer()
	resp, err := client.Do(outReq)
	timer.ObserveDurationVec(metrics.RouterProxyDuration, pod.NodeID)
	if err != nil {
		err = cmn.Wrap(cmn.KindUpstreamFailure, "proxy to peer node "+pod.NodeID, err)
		cmn.WriteErr(w, err)
		return err
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		if strings.EqualFold(k, "Transfer-Encoding") {
			continue
		}
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Xpod-Proxied-From", pod.NodeID)
	w.WriteHeader(resp.StatusCode)
	_, err = io.Copy(w, resp.Body)
	return err
}

func copyHeadersExceptHost(dst, src http.Header) {
	for k, vv := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// appendForwardedHeaders sets X-Forwarded-{Host,Proto,Port,For}, chain-
// appending to any pre-existing X-Forwarded-For (spec §4.D).
func appendForwardedHeaders(dst http.Header, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	dst.Set("X-Forwarded-Host", r.Host)
	dst.Set("X-Forwarded-Proto", scheme)
	if port := portOf(r.Host); port != "" {
		dst.Set("X-Forwarded-Port", port)
	}
	clientIP := hostOf(r.RemoteAddr)
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		dst.Set("X-Forwarded-For", prior+", "+clientIP)
	} else if clientIP != "" {
		dst.Set("X-Forwarded-For", clientIP)
	}
}

func portOf(hostport string) string {
	if idx := strings.LastIndex(hostport, ":"); idx >= 0 {
		return hostport[idx+1:]
	}
	return ""
}

func hostOf(hostport string) string {
	if idx := strings.LastIndex(hostport, ":"); idx >= 0 {
		return hostport[:idx]
	}
	return hostport
}
