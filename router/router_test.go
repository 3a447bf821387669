package router

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/xpod/core/directory"
	"github.com/xpod/core/registry"
	"github.com/xpod/core/store"
)

func newTestDB(t *testing.T) (*directory.Directory, *registry.Registry) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return directory.New(db), registry.New(db)
}

// S1 — longest-prefix routing: this node is A, pod B2 is owned by B, request
// for a B2 path must be proxied to B.
func TestS1PodRoutingProxiesToOwningNode(t *testing.T) {
	dir, reg := newTestDB(t)

	var gotPath string
	var gotSourceHeader string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSourceHeader = r.Header.Get("X-Xpod-Source-Node")
		w.Header().Set("X-Upstream", "B")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "served-by-B")
	}))
	defer upstream.Close()

	host, port := splitHostPort(t, upstream.URL)
	_, _, err := reg.RegisterCenterNode(registry.CapabilityRegistration{NodeID: "B", InternalIP: host, InternalPort: port})
	require.NoError(t, err)
	require.NoError(t, dir.CreatePod(&directory.Pod{PodID: "B1", BaseURL: "https://h/alice/", NodeID: "A"}))
	require.NoError(t, dir.CreatePod(&directory.Pod{PodID: "B2", BaseURL: "https://h/alice/work/", NodeID: "B"}))

	handler := &PodRoutingHandler{Enabled: true, Dir: dir, Reg: reg, ThisNodeID: "A"}
	req := httptest.NewRequest(http.MethodGet, "https://h/alice/work/notes.md", nil)
	req.Host = "h"
	require.True(t, handler.CanHandle(req))

	rec := httptest.NewRecorder()
	require.NoError(t, handler.Handle(rec, req))

	require.Equal(t, "/alice/work/notes.md", gotPath)
	require.Equal(t, "A", gotSourceHeader)
	require.Equal(t, "B", rec.Header().Get("X-Xpod-Proxied-From"))
	require.Equal(t, "served-by-B", rec.Body.String())
}

func TestPodRoutingDeclinesOwnedPod(t *testing.T) {
	dir, reg := newTestDB(t)
	require.NoError(t, dir.CreatePod(&directory.Pod{PodID: "B1", BaseURL: "https://h/alice/", NodeID: "A"}))

	handler := &PodRoutingHandler{Enabled: true, Dir: dir, Reg: reg, ThisNodeID: "A"}
	req := httptest.NewRequest(http.MethodGet, "https://h/alice/notes.md", nil)
	req.Host = "h"
	require.False(t, handler.CanHandle(req))
}

func TestPodRoutingDeclinesSystemPaths(t *testing.T) {
	dir, reg := newTestDB(t)
	handler := &PodRoutingHandler{Enabled: true, Dir: dir, Reg: reg, ThisNodeID: "A"}
	req := httptest.NewRequest(http.MethodGet, "https://h/api/whoami", nil)
	req.Host = "h"
	require.False(t, handler.CanHandle(req))
}

// S2 — edge direct redirect, non-standard port, over a raw socket.
func TestS2EdgeDirectWebSocketRedirectRawSocket(t *testing.T) {
	_, reg := newTestDB(t)
	_, err := reg.RegisterEdgeNode("n1")
	require.NoError(t, err)
	publicIP, publicPort := "203.0.113.10", 8443
	require.NoError(t, reg.UpdateNodeMode("n1", registry.ModeUpdate{
		AccessMode: modePtr(registry.AccessDirect),
		PublicIP:   &publicIP,
		PublicPort: &publicPort,
	}))

	cfg := NewWSConfigurator("cluster.example.com", reg)

	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handled := cfg.HandleUpgrade(w, r)
		require.True(t, handled)
	}))
	server.Start()
	defer server.Close()

	conn, err := net.Dial("tcp", server.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprintf(conn, "GET /test HTTP/1.1\r\nHost: n1.cluster.example.com\r\nConnection: Upgrade\r\nUpgrade: websocket\r\n\r\n")

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, statusLine, "307 Temporary Redirect")

	headers := readHeaders(t, reader)
	require.Equal(t, "wss://203.0.113.10:8443/test", headers["Location"])
	require.Equal(t, "n1", headers["X-Xpod-Direct-Node"])
}

func readHeaders(t *testing.T, r *bufio.Reader) map[string]string {
	t.Helper()
	out := map[string]string{}
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		trimmed := trimCRLF(line)
		if trimmed == "" {
			break
		}
		k, v, ok := splitHeaderLine(trimmed)
		if ok {
			out[k] = v
		}
	}
	return out
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func splitHeaderLine(line string) (k, v string, ok bool) {
	for i := 0; i < len(line); i++ {
		if line[i] == ':' {
			return line[:i], trimLeadingSpace(line[i+1:]), true
		}
	}
	return "", "", false
}

func trimLeadingSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	return s
}

func TestEdgeDirectHandlerRedirects(t *testing.T) {
	dir, reg := newTestDB(t)
	_, err := reg.RegisterEdgeNode("n1")
	require.NoError(t, err)
	publicIP, publicPort := "203.0.113.10", 8443
	require.NoError(t, reg.UpdateNodeMode("n1", registry.ModeUpdate{
		AccessMode: modePtr(registry.AccessDirect),
		PublicIP:   &publicIP,
		PublicPort: &publicPort,
	}))
	require.NoError(t, dir.CreatePod(&directory.Pod{PodID: "p", BaseURL: "https://h/p/", NodeID: "n1"}))

	handler := &EdgeDirectHandler{Dir: dir, Reg: reg, ThisNodeID: "A"}
	req := httptest.NewRequest(http.MethodGet, "https://h/p/doc.ttl", nil)
	req.Host = "h"
	require.True(t, handler.CanHandle(req))

	rec := httptest.NewRecorder()
	require.NoError(t, handler.Handle(rec, req))
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	require.Equal(t, "https://203.0.113.10:8443/p/doc.ttl", rec.Header().Get("Location"))
	require.Equal(t, "n1", rec.Header().Get("X-Xpod-Direct-Node"))
}

func TestCandidateNodeIDRejectsExtraDots(t *testing.T) {
	cfg := NewWSConfigurator("cluster.example.com", nil)
	_, ok := cfg.candidateNodeID("cluster.example.com")
	require.False(t, ok)

	id, ok := cfg.candidateNodeID("n1.cluster.example.com")
	require.True(t, ok)
	require.Equal(t, "n1", id)

	_, ok = cfg.candidateNodeID("n1.extra.cluster.example.com")
	require.False(t, ok)
}

// S5 — proxy-mode WebSocket tunnel: the configurator reverse-proxies the
// upgrade to the edge's tunnel entrypoint.
func TestS5ProxyModeWebSocketTunnel(t *testing.T) {
	_, reg := newTestDB(t)
	_, err := reg.RegisterEdgeNode("n2")
	require.NoError(t, err)

	upgrader := websocket.Upgrader{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		mt, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(mt, []byte("echo:"+string(msg))))
	}))
	defer upstream.Close()

	require.NoError(t, reg.UpdateNodeMode("n2", registry.ModeUpdate{AccessMode: modePtr(registry.AccessProxy)}))
	require.NoError(t, reg.MergeNodeMetadata("n2", map[string]interface{}{
		"tunnel": map[string]interface{}{"entrypoint": upstream.URL},
	}))

	cfg := NewWSConfigurator("cluster.example.com", reg)
	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handled := cfg.HandleUpgrade(w, r)
		require.True(t, handled)
	}))
	defer front.Close()

	frontURL := "ws" + strings.TrimPrefix(front.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("X-Original-Host", "n2.cluster.example.com")
	clientConn, _, err := websocket.DefaultDialer.Dial(frontURL, header)
	require.NoError(t, err)
	defer clientConn.Close()

	require.NoError(t, clientConn.WriteMessage(websocket.TextMessage, []byte("hi")))
	mt, msg, err := clientConn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)
	require.Equal(t, "echo:hi", string(msg))
}

func TestTunnelEntrypointPrefersTunnelMetadata(t *testing.T) {
	md := map[string]interface{}{
		"tunnel":        map[string]interface{}{"entrypoint": "https://tunnel.example.com/"},
		"publicAddress": "https://fallback.example.com/",
	}
	require.Equal(t, "https://tunnel.example.com/", tunnelEntrypoint(md))

	md2 := map[string]interface{}{"publicAddress": "https://fallback.example.com/"}
	require.Equal(t, "https://fallback.example.com/", tunnelEntrypoint(md2))
}

func modePtr(m registry.AccessMode) *registry.AccessMode { return &m }

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}
