package mind

import "time"

// Embedder maps text to a fixed-dimensional unit embedding. It is the
// one external collaborator spec.md §1 places out of scope; callers
// attach their own implementation.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// Config holds every named option from spec.md §6, following the
// teacher's plain-struct-plus-functional-options idiom (no config-file
// parser is warranted for an in-process library).
type Config struct {
	Path string
	Dim  int

	Embedder Embedder

	HotCapacity  int
	WarmCapacity int
	HotAgeMs     int64
	WarmAgeMs    int64

	DecayIntervalMs      int64
	CheckpointIntervalMs int64
	PruneThreshold       float64

	SkipBM25      bool
	UseMmapGraph  bool

	EnableQuotaManager bool
	TotalCapacity      int
	TypeQuotas         map[byte]int

	EnableUtilityDecay      bool
	EnableAttractorDampener bool
	EnableProvenance        bool
	EnableRealmScoping      bool
	EnableTruthMaintenance  bool
	EnableQueryRouting      bool
	EnableSessionPriming    bool

	DefaultRealm            string
	DefaultProvenanceSource string
	SessionID               string
}

// Option mutates a Config; the functional-option pattern the teacher
// uses throughout sqvect's public constructors.
type Option func(*Config)

func WithPath(path string) Option { return func(c *Config) { c.Path = path } }
func WithDimension(dim int) Option { return func(c *Config) { c.Dim = dim } }
func WithEmbedder(e Embedder) Option { return func(c *Config) { c.Embedder = e } }
func WithTierSizes(hot, warm int) Option {
	return func(c *Config) { c.HotCapacity = hot; c.WarmCapacity = warm }
}
func WithTotalCapacity(n int) Option {
	return func(c *Config) { c.EnableQuotaManager = true; c.TotalCapacity = n }
}
func WithDefaultRealm(name string) Option { return func(c *Config) { c.DefaultRealm = name } }
func WithSessionID(id string) Option      { return func(c *Config) { c.SessionID = id } }
func WithSkipBM25() Option                { return func(c *Config) { c.SkipBM25 = true } }

// DefaultConfig matches spec §6's reference values.
func DefaultConfig() Config {
	return Config{
		Dim:                     384,
		HotCapacity:             10000,
		WarmCapacity:            100000,
		HotAgeMs:                int64(24 * time.Hour / time.Millisecond),
		WarmAgeMs:               int64(7 * 24 * time.Hour / time.Millisecond),
		DecayIntervalMs:         int64(time.Hour / time.Millisecond),
		CheckpointIntervalMs:    int64(5 * time.Minute / time.Millisecond),
		PruneThreshold:          0.05,
		EnableQuotaManager:      true,
		TotalCapacity:           1_000_000,
		TypeQuotas:              map[byte]int{},
		EnableUtilityDecay:      true,
		EnableAttractorDampener: true,
		EnableProvenance:        true,
		EnableRealmScoping:      true,
		EnableTruthMaintenance:  true,
		EnableQueryRouting:      true,
		EnableSessionPriming:    true,
		DefaultRealm:            "brahman",
		DefaultProvenanceSource: "user-input",
	}
}

// New applies options over DefaultConfig.
func New(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
