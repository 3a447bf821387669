package registry

import (
	"database/sql"
	"strings"
	"time"

	"github.com/xpod/core/cmn"
	"github.com/xpod/core/metrics"
)

// Registry is the persistent CRUD + domain-lookup contract of spec §4.A.
type Registry struct {
	db *sql.DB
}

func New(db *sql.DB) *Registry { return &Registry{db: db} }

// RegisterCenterNode is an idempotent upsert: it preserves existing rows and
// returns a freshly minted secret only at creation time -- the secret can
// never be retrieved later, only its SHA-256 (TokenHash) is stored.
func (r *Registry) RegisterCenterNode(reg CapabilityRegistration) (nodeID, secret string, err error) {
	now := time.Now()
	existing, gerr := r.getNode(reg.NodeID)
	if gerr != nil {
		return "", "", cmn.StoreErrorf(gerr, "register center node %s", reg.NodeID)
	}
	if existing != nil {
		// idempotent upsert: preserve tokenHash, refresh reachability fields.
		_, err = r.db.Exec(`UPDATE nodes SET internal_ip=?, internal_port=?, updated_at=? WHERE node_id=?`,
			reg.InternalIP, reg.InternalPort, now.Unix(), reg.NodeID)
		if err != nil {
			return "", "", cmn.StoreErrorf(err, "update node %s", reg.NodeID)
		}
		r.refreshNodeMetrics()
		return reg.NodeID, "", nil
	}

	secret, err = cmn.NewRegistrationSecret()
	if err != nil {
		return "", "", cmn.Wrap(cmn.KindInternal, "generate registration secret", err)
	}
	tokenHash := cmn.HashToken(secret)
	_, err = r.db.Exec(`INSERT INTO nodes
		(node_id, node_type, token_hash, access_mode, internal_ip, internal_port,
		 capabilities, metadata, connectivity_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, '{}', '{}', ?, ?, ?)`,
		reg.NodeID, string(NodeTypeCenter), tokenHash, string(AccessUnset),
		reg.InternalIP, reg.InternalPort, string(ConnUnknown), now.Unix(), now.Unix())
	if err != nil {
		return "", "", cmn.StoreErrorf(err, "insert node %s", reg.NodeID)
	}
	r.refreshNodeMetrics()
	return reg.NodeID, secret, nil
}

// RegisterEdgeNode is the edge-side counterpart of RegisterCenterNode: the
// same idempotent-upsert shape, but seeds a NodeTypeEdge row since
// NodeType is immutable after creation (spec §3 invariant). Edge
// registration then calls UpdateNodeMode to set accessMode and public
// reachability (spec §4.A: "updateNodeMode ... used by edge registration").
func (r *Registry) RegisterEdgeNode(nodeID string) (secret string, err error) {
	now := time.Now()
	existing, gerr := r.getNode(nodeID)
	if gerr != nil {
		return "", cmn.StoreErrorf(gerr, "register edge node %s", nodeID)
	}
	if existing != nil {
		return "", nil
	}
	secret, err = cmn.NewRegistrationSecret()
	if err != nil {
		return "", cmn.Wrap(cmn.KindInternal, "generate registration secret", err)
	}
	tokenHash := cmn.HashToken(secret)
	_, err = r.db.Exec(`INSERT INTO nodes
		(node_id, node_type, token_hash, access_mode, capabilities, metadata,
		 connectivity_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, '{}', '{}', ?, ?, ?)`,
		nodeID, string(NodeTypeEdge), tokenHash, string(AccessUnset),
		string(ConnUnknown), now.Unix(), now.Unix())
	if err != nil {
		return "", cmn.StoreErrorf(err, "insert edge node %s", nodeID)
	}
	r.refreshNodeMetrics()
	return secret, nil
}

// UpdateCenterNodeHeartbeat sets lastSeen/updatedAt and forces
// connectivityStatus to reachable (spec §4.A). The heartbeat only ever drives
// the field to reachable; demotion to unreachable comes from the capability
// probe in router/admin.go.
func (r *Registry) UpdateCenterNodeHeartbeat(nodeID, internalIP string, internalPort int, ts time.Time) error {
	res, err := r.db.Exec(`UPDATE nodes SET internal_ip=?, internal_port=?, connectivity_status=?,
		last_seen=?, updated_at=? WHERE node_id=?`,
		internalIP, internalPort, string(ConnReachable), ts.Unix(), ts.Unix(), nodeID)
	if err != nil {
		return cmn.StoreErrorf(err, "heartbeat for %s", nodeID)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return cmn.NotFoundf("node %s", nodeID)
	}
	r.refreshNodeMetrics()
	return nil
}

// UpdateNodeMode implements edge registration (spec §4.A).
type ModeUpdate struct {
	AccessMode   *AccessMode
	PublicIP     *string
	PublicPort   *int
	Subdomain    *string
	Connectivity *ConnectivityStatus
	Capabilities map[string]interface{}
}

func (r *Registry) UpdateNodeMode(nodeID string, u ModeUpdate) error {
	node, err := r.getNode(nodeID)
	if err != nil {
		return cmn.StoreErrorf(err, "load node %s", nodeID)
	}
	if node == nil {
		return cmn.NotFoundf("node %s", nodeID)
	}
	if u.AccessMode != nil {
		node.AccessMode = *u.AccessMode
	}
	if u.PublicIP != nil {
		node.PublicIP = *u.PublicIP
	}
	if u.PublicPort != nil {
		node.PublicPort = *u.PublicPort
	}
	if u.Subdomain != nil {
		node.Subdomain = *u.Subdomain
	}
	if u.Connectivity != nil {
		node.Connectivity = *u.Connectivity
	}
	if u.Capabilities != nil {
		node.Capabilities = u.Capabilities
	}
	capJSON, err := cmn.MarshalJSONString(node.Capabilities)
	if err != nil {
		return cmn.Wrap(cmn.KindInternal, "marshal capabilities", err)
	}
	_, err = r.db.Exec(`UPDATE nodes SET access_mode=?, public_ip=?, public_port=?, subdomain=?,
		connectivity_status=?, capabilities=?, updated_at=? WHERE node_id=?`,
		string(node.AccessMode), node.PublicIP, node.PublicPort, node.Subdomain,
		string(node.Connectivity), capJSON, time.Now().Unix(), nodeID)
	if err != nil {
		return cmn.StoreErrorf(err, "update mode for %s", nodeID)
	}
	r.refreshNodeMetrics()
	return nil
}

// MergeNodeMetadata performs a shallow structural merge into the metadata
// map (spec §4.A).
func (r *Registry) MergeNodeMetadata(nodeID string, patch map[string]interface{}) error {
	node, err := r.getNode(nodeID)
	if err != nil {
		return cmn.StoreErrorf(err, "load node %s", nodeID)
	}
	if node == nil {
		return cmn.NotFoundf("node %s", nodeID)
	}
	if node.Metadata == nil {
		node.Metadata = map[string]interface{}{}
	}
	for k, v := range patch {
		node.Metadata[k] = v
	}
	mdJSON, err := cmn.MarshalJSONString(node.Metadata)
	if err != nil {
		return cmn.Wrap(cmn.KindInternal, "marshal metadata", err)
	}
	_, err = r.db.Exec(`UPDATE nodes SET metadata=?, updated_at=? WHERE node_id=?`,
		mdJSON, time.Now().Unix(), nodeID)
	if err != nil {
		return cmn.StoreErrorf(err, "merge metadata for %s", nodeID)
	}
	return nil
}

// RegisterPodPrefix records a (nodeId, baseUrlPrefix) pair in the node-pods
// index (spec §3 Node-pods index).
func (r *Registry) RegisterPodPrefix(nodeID, baseURLPrefix string) error {
	_, err := r.db.Exec(`INSERT OR IGNORE INTO node_pods (node_id, base_url_prefix) VALUES (?, ?)`,
		nodeID, baseURLPrefix)
	if err != nil {
		return cmn.StoreErrorf(err, "register pod prefix for %s", nodeID)
	}
	return nil
}

func (r *Registry) GetNodeSecret(nodeID string) (tokenHash string, err error) {
	row := r.db.QueryRow(`SELECT token_hash FROM nodes WHERE node_id=?`, nodeID)
	if err := row.Scan(&tokenHash); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", cmn.StoreErrorf(err, "get secret for %s", nodeID)
	}
	return tokenHash, nil
}

func (r *Registry) GetNodeConnectivityInfo(nodeID string) (*Node, error) {
	return r.getNode(nodeID)
}

func (r *Registry) GetNodeMetadata(nodeID string) (map[string]interface{}, error) {
	node, err := r.getNode(nodeID)
	if err != nil {
		return nil, cmn.StoreErrorf(err, "get metadata for %s", nodeID)
	}
	if node == nil {
		return nil, nil
	}
	return node.Metadata, nil
}

// FindNodeByResourcePath resolves the longest node-pods prefix that matches
// path (spec §4.A: "longest-prefix join over the node-pods index").
func (r *Registry) FindNodeByResourcePath(path string) (*Node, error) {
	rows, err := r.db.Query(`SELECT node_id, base_url_prefix FROM node_pods`)
	if err != nil {
		return nil, cmn.StoreErrorf(err, "scan node-pods index")
	}
	defer rows.Close()

	var nodeIDs, prefixes []string
	for rows.Next() {
		var nodeID, prefix string
		if err := rows.Scan(&nodeID, &prefix); err != nil {
			return nil, cmn.StoreErrorf(err, "scan node-pods row")
		}
		nodeIDs = append(nodeIDs, nodeID)
		prefixes = append(prefixes, prefix)
	}
	idx := cmn.LongestPrefixMatch(path, prefixes)
	if idx < 0 {
		return nil, nil
	}
	return r.getNode(nodeIDs[idx])
}

func (r *Registry) FindNodeBySubdomain(hostname string) (*Node, error) {
	label := strings.SplitN(hostname, ".", 2)[0]
	row := r.db.QueryRow(`SELECT node_id FROM nodes WHERE subdomain=? OR node_id=?`, label, label)
	var nodeID string
	if err := row.Scan(&nodeID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, cmn.StoreErrorf(err, "find node by subdomain %s", hostname)
	}
	return r.getNode(nodeID)
}

func (r *Registry) ListCenterNodes() ([]*Node, error) {
	rows, err := r.db.Query(`SELECT node_id FROM nodes WHERE node_type=?`, string(NodeTypeCenter))
	if err != nil {
		return nil, cmn.StoreErrorf(err, "list center nodes")
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, cmn.StoreErrorf(err, "scan center node row")
		}
		ids = append(ids, id)
	}
	nodes := make([]*Node, 0, len(ids))
	for _, id := range ids {
		n, err := r.getNode(id)
		if err != nil {
			return nil, err
		}
		if n != nil {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

func (r *Registry) ListAllNodes() ([]*Node, error) {
	rows, err := r.db.Query(`SELECT node_id FROM nodes`)
	if err != nil {
		return nil, cmn.StoreErrorf(err, "list all nodes")
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, cmn.StoreErrorf(err, "scan node row")
		}
		ids = append(ids, id)
	}
	nodes := make([]*Node, 0, len(ids))
	for _, id := range ids {
		n, err := r.getNode(id)
		if err != nil {
			return nil, err
		}
		if n != nil {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

// MatchesToken performs the constant-time token verification of spec §4.A /
// §8 property 6.
func (r *Registry) MatchesToken(tokenHash, token string) bool {
	return cmn.MatchesToken(tokenHash, token)
}

// refreshNodeMetrics recomputes the xpod_nodes_total gauge by (type,
// connectivity) after any mutation that could shift the distribution.
func (r *Registry) refreshNodeMetrics() {
	rows, err := r.db.Query(`SELECT node_type, connectivity_status, COUNT(*) FROM nodes GROUP BY node_type, connectivity_status`)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var nodeType, conn string
		var count int
		if rows.Scan(&nodeType, &conn, &count) != nil {
			return
		}
		metrics.NodesTotal.WithLabelValues(nodeType, conn).Set(float64(count))
	}
}

func (r *Registry) getNode(nodeID string) (*Node, error) {
	row := r.db.QueryRow(`SELECT node_id, node_type, token_hash, access_mode, internal_ip,
		internal_port, public_ip, public_port, subdomain, capabilities, metadata,
		connectivity_status, created_at, updated_at, last_seen FROM nodes WHERE node_id=?`, nodeID)

	var (
		n                                       Node
		internalIP, publicIP, subdomain         sql.NullString
		internalPort, publicPort                sql.NullInt64
		capJSON, mdJSON                         string
		createdAt, updatedAt                    int64
		lastSeen                                sql.NullInt64
	)
	err := row.Scan(&n.NodeID, &n.NodeType, &n.TokenHash, &n.AccessMode, &internalIP,
		&internalPort, &publicIP, &publicPort, &subdomain, &capJSON, &mdJSON,
		&n.Connectivity, &createdAt, &updatedAt, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	n.InternalIP = internalIP.String
	n.InternalPort = int(internalPort.Int64)
	n.PublicIP = publicIP.String
	n.PublicPort = int(publicPort.Int64)
	n.Subdomain = subdomain.String
	n.CreatedAt = time.Unix(createdAt, 0)
	n.UpdatedAt = time.Unix(updatedAt, 0)
	if lastSeen.Valid {
		t := time.Unix(lastSeen.Int64, 0)
		n.LastSeen = &t
	}
	if capJSON != "" {
		_ = cmn.UnmarshalJSON([]byte(capJSON), &n.Capabilities)
	}
	if mdJSON != "" {
		_ = cmn.UnmarshalJSON([]byte(mdJSON), &n.Metadata)
	}
	return &n, nil
}
