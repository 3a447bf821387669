// Package registration implements spec §4.G: node-id persistence across
// restarts, POD_IP detection, and the periodic heartbeat that keeps a node's
// registry row marked reachable. Grounded on the teacher's node-id file
// convention (aistore persists its daemon ID under its config dir and reuses
// it on every restart rather than re-minting) and its heartbeat-goroutine
// shape (ais/htrun.go's keepalive loop), generalized to the registry's
// UpdateCenterNodeHeartbeat call.
package registration

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xpod/core/cmn"
	"github.com/xpod/core/registry"
)

const nodeIDFileName = ".node-id"

// LoadOrCreateNodeID returns the persisted node id under rootFilePath,
// minting and writing one with cmn.NewCenterNodeID if none exists yet
// (spec §4.G: "the id is generated once and persisted").
func LoadOrCreateNodeID(rootFilePath string) (string, error) {
	path := filepath.Join(rootFilePath, nodeIDFileName)
	b, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(b))
		if id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", cmn.Wrap(cmn.KindInternal, "read node id file", err)
	}

	id := cmn.NewCenterNodeID()
	if err := os.MkdirAll(rootFilePath, 0o755); err != nil {
		return "", cmn.Wrap(cmn.KindInternal, "create root file path", err)
	}
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		return "", cmn.Wrap(cmn.KindInternal, "write node id file", err)
	}
	return id, nil
}

// DetectPodIP implements spec §4.G's address detection order: the POD_IP
// environment variable (set by the container runtime in a Kubernetes
// deployment) first, then the first non-loopback IPv4 address bound to the
// host, else empty.
func DetectPodIP() string {
	if ip := os.Getenv("POD_IP"); ip != "" {
		return ip
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}

// Heartbeater owns the periodic timer that keeps a center node's registry
// row marked reachable (spec §4.G, §4.A).
type Heartbeater struct {
	reg          *registry.Registry
	nodeID       string
	internalIP   string
	internalPort int
	interval     time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewHeartbeater(reg *registry.Registry, nodeID, internalIP string, internalPort int, interval time.Duration) *Heartbeater {
	if interval <= 0 {
		interval = cmn.DefaultHeartbeat
	}
	return &Heartbeater{
		reg: reg, nodeID: nodeID, internalIP: internalIP, internalPort: internalPort,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start sends an immediate heartbeat, then one every interval, until Stop is
// called.
func (h *Heartbeater) Start() {
	go func() {
		defer close(h.done)
		h.beat()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				h.beat()
			}
		}
	}()
}

func (h *Heartbeater) beat() {
	log := cmn.Component("registration")
	if err := h.reg.UpdateCenterNodeHeartbeat(h.nodeID, h.internalIP, h.internalPort, time.Now()); err != nil {
		log.Warn().Err(err).Str("node", h.nodeID).Msg("heartbeat failed")
	}
}

// Stop signals the heartbeat goroutine to exit and waits for it to finish.
func (h *Heartbeater) Stop() {
	close(h.stop)
	<-h.done
}
