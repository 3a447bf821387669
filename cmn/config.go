package cmn

import (
	"encoding/json"
	"os"
	"sync/atomic"
	"time"
)

// Config is the single process-wide configuration snapshot, loaded once from
// disk and swapped atomically on reload -- the split aistore calls "GCO"
// (global config owner) in cmn/config.go: readers never block a reload, and
// a reload never mutates a snapshot a request already holds a pointer to.
type Config struct {
	NodeID       string        `json:"node_id,omitempty"`
	RootFilePath string        `json:"root_file_path"`
	InternalPort int           `json:"internal_port"`
	ClusterDNS   string        `json:"cluster_dns"` // ingress domain, e.g. cluster.example.com
	Heartbeat    time.Duration `json:"heartbeat"`

	Accessor AccessorConfig `json:"accessor"`

	Supervisor SupervisorConfig `json:"supervisor"`

	// AdminJWTSecret signs the bearer sessions issued over the admin HTTP
	// surface (spec §6, §4.H). Empty disables admin auth -- acceptable for
	// a single-operator local deployment, never for a networked one.
	AdminJWTSecret string `json:"admin_jwt_secret,omitempty"`
}

type AccessorConfig struct {
	PrimaryBucket string            `json:"primary_bucket"`
	LocalCacheDir string            `json:"local_cache_dir"`
	CacheMaxBytes int64             `json:"cache_max_bytes"`
	Region        string            `json:"region,omitempty"`
	RegionBuckets map[string]string `json:"region_buckets,omitempty"`

	// Buckets maps a bucket name (the values used in PrimaryBucket and
	// RegionBuckets) to a "scheme:identifier" spec describing which Backend
	// backs it: s3:<bucket>, azure:<container>, gcs:<bucket>, http:<base
	// url>, or mem:<name> for the in-memory backend used by single-binary
	// deployments and tests.
	Buckets map[string]string `json:"buckets,omitempty"`
}

type SupervisorConfig struct {
	MaxLogBuffer int `json:"max_log_buffer"`
	MaxRestarts  int `json:"max_restarts"`
}

const (
	DefaultHeartbeat    = 30 * time.Second
	DefaultMaxLogBuffer = 1000
	DefaultMaxRestarts  = 5
	EvictionLowWater    = 0.8 // hysteresis low-water mark, spec §4.C
	PublicIPProbeTimeout = 3 * time.Second
)

// AzureAccountName and AzureAccountKey read the Azure Blob Storage
// credential out of the process environment; the accessor's bucket builder
// never reads credentials from the config file itself.
func AzureAccountName() string { return os.Getenv("AZURE_STORAGE_ACCOUNT") }
func AzureAccountKey() string  { return os.Getenv("AZURE_STORAGE_KEY") }

// configOwner holds the current snapshot behind an atomic.Value, mirroring
// aistore's GCO pattern; Get() never blocks a concurrent Put().
type configOwner struct {
	v atomic.Value
}

var GCO = &configOwner{}

func (o *configOwner) Get() *Config {
	v, _ := o.v.Load().(*Config)
	if v == nil {
		return &Config{Heartbeat: DefaultHeartbeat}
	}
	return v
}

func (o *configOwner) Put(c *Config) { o.v.Store(c) }

// LoadConfig reads a JSON config file from path (or from XPOD_ENV_PATH if
// path is empty), applying the small set of environment overrides named in
// spec §6.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("XPOD_ENV_PATH")
	}
	cfg := &Config{
		Heartbeat: DefaultHeartbeat,
		Supervisor: SupervisorConfig{
			MaxLogBuffer: DefaultMaxLogBuffer,
			MaxRestarts:  DefaultMaxRestarts,
		},
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Supervisor.MaxLogBuffer == 0 {
		cfg.Supervisor.MaxLogBuffer = DefaultMaxLogBuffer
	}
	if cfg.Supervisor.MaxRestarts == 0 {
		cfg.Supervisor.MaxRestarts = DefaultMaxRestarts
	}
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	GCO.Put(cfg)
	return cfg, nil
}
