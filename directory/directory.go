// Package directory is the pod directory (spec §4.B): resolves an inbound
// URL to a pod, and is the single-row-atomic store whose setNodeId is the
// migration commit primitive (spec §4.B design note, §5 ordering
// guarantees). Modeled on the teacher's bucket-metadata ownership pattern
// (ais/proxy.go's BMD handling) but scoped to a SQL table rather than a
// gossiped in-memory struct, consistent with this spec's single-database
// coordination model.
package directory

import (
	"database/sql"

	"github.com/xpod/core/cmn"
	"github.com/xpod/core/metrics"
)

type MigrationStatus string

const (
	MigrationSyncing MigrationStatus = "syncing"
	MigrationDone    MigrationStatus = "done"
)

// Pod is the pod record of spec §3. NodeID is nullable: absent means "on
// whatever node is serving; treat as local legacy."
type Pod struct {
	PodID               string
	AccountID           string
	BaseURL             string
	NodeID              string // "" means unset
	MigrationStatus     MigrationStatus
	MigrationTargetNode string
	MigrationProgress   int
}

type Directory struct {
	db *sql.DB
}

func New(db *sql.DB) *Directory { return &Directory{db: db} }

// FindByResourceIdentifier returns the pod whose baseUrl is the longest
// prefix of url (spec §4.B, S1).
func (d *Directory) FindByResourceIdentifier(url string) (*Pod, error) {
	rows, err := d.db.Query(`SELECT pod_id, base_url FROM pods`)
	if err != nil {
		return nil, cmn.StoreErrorf(err, "scan pods for prefix match")
	}
	var ids, prefixes []string
	for rows.Next() {
		var id, base string
		if err := rows.Scan(&id, &base); err != nil {
			rows.Close()
			return nil, cmn.StoreErrorf(err, "scan pod row")
		}
		ids = append(ids, id)
		prefixes = append(prefixes, base)
	}
	rows.Close()
	idx := cmn.LongestPrefixMatch(url, prefixes)
	if idx < 0 {
		return nil, nil
	}
	return d.FindByID(ids[idx])
}

func (d *Directory) FindByID(podID string) (*Pod, error) {
	row := d.db.QueryRow(`SELECT pod_id, account_id, base_url, node_id,
		migration_status, migration_target_node, migration_progress FROM pods WHERE pod_id=?`, podID)
	return scanPod(row)
}

func (d *Directory) ListAllPods() ([]*Pod, error) {
	rows, err := d.db.Query(`SELECT pod_id, account_id, base_url, node_id,
		migration_status, migration_target_node, migration_progress FROM pods`)
	if err != nil {
		return nil, cmn.StoreErrorf(err, "list all pods")
	}
	defer rows.Close()
	var pods []*Pod
	for rows.Next() {
		p, err := scanPodRows(rows)
		if err != nil {
			return nil, err
		}
		pods = append(pods, p)
	}
	return pods, nil
}

// CreatePod is invoked by the (external) account-and-pod-creation flow
// (spec §3 lifecycles); the core itself never originates a pod, but must be
// able to seed the directory in tests and single-binary deployments.
func (d *Directory) CreatePod(p *Pod) error {
	_, err := d.db.Exec(`INSERT INTO pods (pod_id, account_id, base_url, node_id) VALUES (?, ?, ?, ?)`,
		p.PodID, p.AccountID, p.BaseURL, nullIfEmpty(p.NodeID))
	if err != nil {
		return cmn.StoreErrorf(err, "create pod %s", p.PodID)
	}
	d.refreshPodMetrics()
	return nil
}

func (d *Directory) refreshPodMetrics() {
	row := d.db.QueryRow(`SELECT COUNT(*) FROM pods`)
	var count int
	if row.Scan(&count) == nil {
		metrics.PodsTotal.Set(float64(count))
	}
}

// SetNodeId is the migration commit primitive: a single atomic row write
// (spec §4.B, §5 "the commit is the linearization point").
func (d *Directory) SetNodeId(podID, nodeID string) error {
	res, err := d.db.Exec(`UPDATE pods SET node_id=? WHERE pod_id=?`, nodeID, podID)
	if err != nil {
		return cmn.StoreErrorf(err, "set node id for pod %s", podID)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return cmn.NotFoundf("pod %s", podID)
	}
	return nil
}

func (d *Directory) SetMigrationStatus(podID string, status MigrationStatus, targetNode string, progress int) error {
	_, err := d.db.Exec(`UPDATE pods SET migration_status=?, migration_target_node=?, migration_progress=? WHERE pod_id=?`,
		string(status), targetNode, progress, podID)
	if err != nil {
		return cmn.StoreErrorf(err, "set migration status for pod %s", podID)
	}
	return nil
}

// ClearMigrationStatus removes the migration fields once a staged migration
// finishes or is cancelled.
func (d *Directory) ClearMigrationStatus(podID string) error {
	_, err := d.db.Exec(`UPDATE pods SET migration_status=NULL, migration_target_node=NULL, migration_progress=NULL WHERE pod_id=?`, podID)
	if err != nil {
		return cmn.StoreErrorf(err, "clear migration status for pod %s", podID)
	}
	return nil
}

func (d *Directory) GetMigrationStatus(podID string) (status MigrationStatus, targetNode string, progress int, err error) {
	row := d.db.QueryRow(`SELECT migration_status, migration_target_node, migration_progress FROM pods WHERE pod_id=?`, podID)
	var st, tn sql.NullString
	var pr sql.NullInt64
	if err = row.Scan(&st, &tn, &pr); err != nil {
		if err == sql.ErrNoRows {
			return "", "", 0, cmn.NotFoundf("pod %s", podID)
		}
		return "", "", 0, cmn.StoreErrorf(err, "get migration status for pod %s", podID)
	}
	return MigrationStatus(st.String), tn.String, int(pr.Int64), nil
}

func scanPod(row *sql.Row) (*Pod, error) {
	var p Pod
	var nodeID, status, target sql.NullString
	var progress sql.NullInt64
	if err := row.Scan(&p.PodID, &p.AccountID, &p.BaseURL, &nodeID, &status, &target, &progress); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, cmn.StoreErrorf(err, "scan pod")
	}
	p.NodeID = nodeID.String
	p.MigrationStatus = MigrationStatus(status.String)
	p.MigrationTargetNode = target.String
	p.MigrationProgress = int(progress.Int64)
	return &p, nil
}

func scanPodRows(rows *sql.Rows) (*Pod, error) {
	var p Pod
	var nodeID, status, target sql.NullString
	var progress sql.NullInt64
	if err := rows.Scan(&p.PodID, &p.AccountID, &p.BaseURL, &nodeID, &status, &target, &progress); err != nil {
		return nil, cmn.StoreErrorf(err, "scan pod row")
	}
	p.NodeID = nodeID.String
	p.MigrationStatus = MigrationStatus(status.String)
	p.MigrationTargetNode = target.String
	p.MigrationProgress = int(progress.Int64)
	return &p, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
