// Command xpodnode is the single-binary center-node process: it wires the
// node registry, pod directory, tiered accessor, router, migration engine,
// supervisor, and registration/heartbeat into one running node (spec §1,
// §4.G). Grounded on the teacher's daemon entry point (aistore's
// cmd/aisnode/main.go loads config, opens its stores, then runs the HTTP
// server loop), generalized here to a flatter single-process wiring since
// this core runs no gossiped membership of its own.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/xpod/core/accessor"
	"github.com/xpod/core/cmn"
	"github.com/xpod/core/directory"
	"github.com/xpod/core/metrics"
	"github.com/xpod/core/migration"
	"github.com/xpod/core/registration"
	"github.com/xpod/core/registry"
	"github.com/xpod/core/router"
	"github.com/xpod/core/store"
	"github.com/xpod/core/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to the node's JSON config file (XPOD_ENV_PATH if empty)")
	dbPath := flag.String("db", "", "path to the shared SQLite coordination database (in-memory if empty)")
	flag.Parse()

	log := cmn.Component("xpodnode")

	cfg, err := cmn.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	nodeID := cfg.NodeID
	if nodeID == "" {
		id, err := registration.LoadOrCreateNodeID(cfg.RootFilePath)
		if err != nil {
			log.Fatal().Err(err).Msg("load or create node id")
		}
		nodeID = id
	}
	cfg.NodeID = nodeID
	cmn.GCO.Put(cfg)

	db, err := openStore(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer db.Close()

	reg := registry.New(db)
	dir := directory.New(db)

	internalIP := registration.DetectPodIP()
	if _, _, err := reg.RegisterCenterNode(registry.CapabilityRegistration{
		NodeID: nodeID, InternalIP: internalIP, InternalPort: cfg.InternalPort,
	}); err != nil {
		log.Fatal().Err(err).Msg("register center node")
	}

	hb := registration.NewHeartbeater(reg, nodeID, internalIP, cfg.InternalPort, cfg.Heartbeat)
	hb.Start()
	defer hb.Stop()

	buckets, err := accessor.BuildBucketSet(context.Background(), cfg.Accessor.Buckets)
	if err != nil {
		log.Fatal().Err(err).Msg("build bucket set")
	}
	acc, err := accessor.New(accessor.Config{
		PrimaryBucket: cfg.Accessor.PrimaryBucket,
		LocalCacheDir: cfg.Accessor.LocalCacheDir,
		CacheMaxBytes: cfg.Accessor.CacheMaxBytes,
		Region:        cfg.Accessor.Region,
		RegionBuckets: cfg.Accessor.RegionBuckets,
	}, buckets)
	if err != nil {
		log.Fatal().Err(err).Msg("construct accessor")
	}

	engine := migration.New(dir, reg, acc, nodeID)

	sup := supervisor.New(cfg.Supervisor.MaxRestarts, cfg.Supervisor.MaxLogBuffer)
	sup.InstallSignalHandlers(10 * time.Second)

	muxRouter := mux.NewRouter()
	(&router.AdminAPI{Reg: reg, JWTSecret: cfg.AdminJWTSecret}).Register(muxRouter)
	(&router.MigrationAPI{
		Dir:          dir,
		Engine:       engine,
		Staged:       acc.SupportsMigration(),
		TargetRegion: cfg.Accessor.Region,
	}).Register(muxRouter)
	(&router.SupervisorAPI{Sup: sup, JWTSecret: cfg.AdminJWTSecret}).Register(muxRouter)
	muxRouter.Handle("/metrics", metrics.Handler())

	wsCfg := router.NewWSConfigurator(cfg.ClusterDNS, reg)
	chain := router.NewChain().
		Intercept(&router.EdgeDirectHandler{Dir: dir, Reg: reg, ThisNodeID: nodeID}).
		Intercept(&router.PodRoutingHandler{Enabled: true, Dir: dir, Reg: reg, ThisNodeID: nodeID}).
		NotFound(muxRouter)

	httpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isWebsocketUpgrade(r) && wsCfg.HandleUpgrade(w, r) {
			return
		}
		chain.ServeHTTP(w, r)
	})

	addr := ":" + strconv.Itoa(cfg.InternalPort)
	log.Info().Str("addr", addr).Str("nodeId", nodeID).Msg("xpodnode listening")
	if err := http.ListenAndServe(addr, httpHandler); err != nil {
		log.Fatal().Err(err).Msg("http server exited")
	}
}

func isWebsocketUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") == "websocket"
}

// openStore opens the shared coordination database: the given path if set,
// otherwise an in-memory instance for single-binary and test deployments.
func openStore(path string) (*sql.DB, error) {
	if path == "" {
		return store.OpenMemory()
	}
	return store.Open(path)
}
