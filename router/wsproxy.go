package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/xpod/core/cmn"
	"github.com/xpod/core/registry"
)

// WSConfigurator is the cluster WebSocket configurator of spec §4.D: it
// prepends itself to the HTTP server's upgrade event, resolving the
// candidate nodeId from the request hostname before the default WebSocket
// handler ever runs. Grounded on gorilla/websocket's server+dialer pair
// (the only reverse-tunnel-capable WS stack in the example pack) for both
// the server-side Upgrader and the outbound tunnel Dialer.
type WSConfigurator struct {
	ClusterDNS string
	Reg        *registry.Registry
	upgrader   websocket.Upgrader
}

func NewWSConfigurator(clusterDNS string, reg *registry.Registry) *WSConfigurator {
	return &WSConfigurator{
		ClusterDNS: clusterDNS,
		Reg:        reg,
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// candidateNodeID implements spec §4.D's hostname parse: extract the first
// label as a candidate nodeId, rejecting hostnames with extra dots after
// stripping the cluster suffix.
func (c *WSConfigurator) candidateNodeID(hostname string) (nodeID string, ok bool) {
	if hostname == c.ClusterDNS {
		return "", false
	}
	suffix := "." + c.ClusterDNS
	if strings.HasSuffix(hostname, suffix) {
		label := strings.TrimSuffix(hostname, suffix)
		if strings.Contains(label, ".") {
			return "", false
		}
		return label, true
	}
	parts := strings.SplitN(hostname, ".", 2)
	if len(parts) == 2 && strings.Contains(parts[1], ".") {
		return "", false
	}
	return parts[0], true
}

// HandleUpgrade is invoked for every WebSocket upgrade request before the
// default handler. It returns false when the request should be yielded to
// other handlers (hostnames that yield no candidate nodeId: the cluster
// domain itself, or more than one label in front of it); otherwise it has
// fully handled the request (redirect, tunnel proxy, or an error status,
// including a 404 for a candidate nodeId that is not registered) and
// returns true.
func (c *WSConfigurator) HandleUpgrade(w http.ResponseWriter, r *http.Request) bool {
	hostname := r.Header.Get("X-Original-Host")
	if hostname == "" {
		hostname = r.Host
	}
	hostname = hostOf(hostname)

	nodeID, ok := c.candidateNodeID(hostname)
	if !ok {
		return false
	}

	node, err := c.Reg.GetNodeConnectivityInfo(nodeID)
	if err != nil || node == nil {
		writeRawStatus(w, http.StatusNotFound, nil)
		return true
	}

	switch node.AccessMode {
	case registry.AccessDirect:
		if node.PublicIP == "" {
			writeRawStatus(w, http.StatusBadGateway, nil)
			return true
		}
		location := "wss://" + node.PublicEndpoint() + r.URL.Path
		if r.URL.RawQuery != "" {
			location += "?" + r.URL.RawQuery
		}
		headers := http.Header{}
		headers.Set("Location", location)
		headers.Set("X-Xpod-Direct-Node", node.NodeID)
		writeRawStatus(w, http.StatusTemporaryRedirect, headers)
		return true
	case registry.AccessProxy:
		entrypoint := tunnelEntrypoint(node.Metadata)
		if entrypoint == "" {
			writeRawStatus(w, http.StatusBadGateway, nil)
			return true
		}
		c.tunnelProxy(w, r, node, entrypoint)
		return true
	default:
		writeRawStatus(w, http.StatusBadRequest, nil)
		return true
	}
}

func tunnelEntrypoint(metadata map[string]interface{}) string {
	if metadata == nil {
		return ""
	}
	if tunnel, ok := metadata["tunnel"].(map[string]interface{}); ok {
		if ep, ok := tunnel["entrypoint"].(string); ok && ep != "" {
			return ep
		}
	}
	if pa, ok := metadata["publicAddress"].(string); ok {
		return pa
	}
	return ""
}

// tunnelProxy reverse-proxies an upgraded WebSocket connection to a
// proxy-mode edge's tunnel entrypoint (spec §4.D, S5).
func (c *WSConfigurator) tunnelProxy(w http.ResponseWriter, r *http.Request, node *registry.Node, entrypoint string) {
	log := cmn.Component("router")

	upstreamURL := toWSURL(entrypoint) + r.URL.Path
	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	reqHeader := http.Header{}
	reqHeader.Set("X-Forwarded-Host", r.Host)
	reqHeader.Set("X-Forwarded-Proto", "wss")
	reqHeader.Set("X-Xpod-Proxy-Node", node.NodeID)

	upstreamConn, _, err := websocket.DefaultDialer.Dial(upstreamURL, reqHeader)
	if err != nil {
		log.Warn().Err(err).Str("upstream", upstreamURL).Msg("tunnel dial failed")
		writeRawStatus(w, http.StatusBadGateway, nil)
		return
	}
	defer upstreamConn.Close()

	clientConn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("client websocket upgrade failed")
		return
	}
	defer clientConn.Close()

	errc := make(chan error, 2)
	go pumpWS(upstreamConn, clientConn, errc)
	go pumpWS(clientConn, upstreamConn, errc)
	<-errc
}

func pumpWS(dst, src *websocket.Conn, errc chan<- error) {
	for {
		mt, msg, err := src.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		if err := dst.WriteMessage(mt, msg); err != nil {
			errc <- err
			return
		}
	}
}

// toWSURL rewrites an http(s) tunnel entrypoint into its ws(s) equivalent.
func toWSURL(entrypoint string) string {
	entrypoint = strings.TrimSuffix(entrypoint, "/")
	switch {
	case strings.HasPrefix(entrypoint, "https://"):
		return "wss://" + strings.TrimPrefix(entrypoint, "https://")
	case strings.HasPrefix(entrypoint, "http://"):
		return "ws://" + strings.TrimPrefix(entrypoint, "http://")
	default:
		return entrypoint
	}
}

// writeRawStatus hijacks the connection and writes a bare HTTP/1.1 status
// line plus headers, matching spec §4.D's "write an HTTP/1.1 307 ...and
// close" wording for raw-socket responses issued before any WebSocket
// upgrade completes (S2).
func writeRawStatus(w http.ResponseWriter, status int, headers http.Header) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(status)
		return
	}
	conn, bufrw, err := hj.Hijack()
	if err != nil {
		return
	}
	defer conn.Close()
	fmt.Fprintf(bufrw, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	for k, vv := range headers {
		for _, v := range vv {
			fmt.Fprintf(bufrw, "%s: %s\r\n", k, v)
		}
	}
	fmt.Fprint(bufrw, "\r\n")
	bufrw.Flush()
}
