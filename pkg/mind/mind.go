// Package mind implements the coordinator described in spec §2 item 7:
// it owns the unified index, connection pool, WAL, secondary indices,
// and every meta-store, and exposes the engine's public operations.
package mind

import (
	"fmt"
	"sync"
	"time"

	"github.com/liliang-cn/chitta/internal/logging"
	"github.com/liliang-cn/chitta/pkg/ann"
	"github.com/liliang-cn/chitta/pkg/bm25"
	"github.com/liliang-cn/chitta/pkg/dampener"
	"github.com/liliang-cn/chitta/pkg/gap"
	"github.com/liliang-cn/chitta/pkg/nodeid"
	"github.com/liliang-cn/chitta/pkg/provenance"
	"github.com/liliang-cn/chitta/pkg/quant"
	"github.com/liliang-cn/chitta/pkg/realm"
	"github.com/liliang-cn/chitta/pkg/review"
	"github.com/liliang-cn/chitta/pkg/synthesis"
	"github.com/liliang-cn/chitta/pkg/tagidx"
	"github.com/liliang-cn/chitta/pkg/triplet"
	"github.com/liliang-cn/chitta/pkg/truth"
	"github.com/liliang-cn/chitta/pkg/unified"
	"github.com/liliang-cn/chitta/pkg/utility"
	"github.com/liliang-cn/chitta/pkg/wal"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Mind is the coordinator owning every on-disk component and serving
// the public operations. All public methods take a single writer lock;
// recursion into another public method while holding it is forbidden,
// matching spec §5's scheduling model.
type Mind struct {
	mu  sync.Mutex
	cfg Config
	log logging.Logger

	index  *unified.Index
	pool   *unified.Pool
	w      *wal.WAL
	ann    *ann.Graph

	tags     *tagidx.Index
	bm25     *bm25.Index
	triplets *triplet.Store

	utilityTracker *utility.Tracker
	dampenerStore  *dampener.Dampener
	provenanceSt   *provenance.Store
	realms         *realm.Tree
	contradictions *truth.Store
	synthesisQ     *synthesis.Queue
	gaps           *gap.Store
	reviews        *review.Queue

	edges      map[nodeid.SlotId][]unified.ConnEdge
	poolOffs   map[nodeid.SlotId]uint64
	tagsBySlot map[nodeid.SlotId][]string

	hotTier *lru.Cache[nodeid.SlotId, struct{}]

	decayLimiter      *rate.Limiter
	checkpointLimiter *rate.Limiter

	recentObservations []nodeid.ID
	activeIntentions   []nodeid.ID
	goalBasin          []nodeid.ID

	closed bool
}

func pathFor(base, suffix string) string { return base + suffix }

// Open creates or reopens a store rooted at cfg.Path, replaying the WAL
// and reconciling every secondary structure.
func Open(cfg Config) (*Mind, error) {
	if cfg.Path == "" {
		return nil, wrapErr("open", fmt.Errorf("%w: empty path", ErrInvalidArgument))
	}
	if cfg.Dim <= 0 {
		return nil, wrapErr("open", fmt.Errorf("%w: dimension must be positive", ErrInvalidArgument))
	}

	m := &Mind{
		cfg:        cfg,
		log:        logging.New(logging.LevelInfo),
		edges:      make(map[nodeid.SlotId][]unified.ConnEdge),
		poolOffs:   make(map[nodeid.SlotId]uint64),
		tagsBySlot: make(map[nodeid.SlotId][]string),
	}

	idx, err := unified.Open(pathFor(cfg.Path, ".unified"), 1024, cfg.Dim)
	if err != nil {
		return nil, wrapErr("open", fmt.Errorf("%w: %v", ErrIndexCorrupt, err))
	}
	m.index = idx

	pool, err := unified.OpenPool(pathFor(cfg.Path, ".pool"))
	if err != nil {
		idx.Close()
		return nil, wrapErr("open", err)
	}
	m.pool = pool

	w, err := wal.Open(pathFor(cfg.Path, ".wal"))
	if err != nil {
		m.index.Close()
		m.pool.Close()
		return nil, wrapErr("open", err)
	}
	m.w = w

	m.tags, _ = tagidx.Load(pathFor(cfg.Path, ".tags"))
	if m.tags == nil {
		m.tags = tagidx.New()
	}

	m.bm25 = bm25.New(bm25.DefaultConfig())
	if !cfg.SkipBM25 {
		m.rebuildBM25Locked()
	}

	if !cfg.UseMmapGraph {
		m.triplets, _ = triplet.Open(pathFor(cfg.Path, ".graph"), pathFor(cfg.Path, ".graph.wal"))
	} else {
		m.triplets, _ = triplet.Open(pathFor(cfg.Path, ".graph"), pathFor(cfg.Path, ".graph.wal"))
	}
	if m.triplets == nil {
		m.triplets = triplet.New()
	}

	m.utilityTracker, _ = utility.Load(pathFor(cfg.Path, ".utility_decay"), utility.DefaultConfig())
	if m.utilityTracker == nil {
		m.utilityTracker = utility.New(utility.DefaultConfig())
	}
	m.dampenerStore, _ = dampener.Load(pathFor(cfg.Path, ".attractor_dampener"), dampener.DefaultConfig())
	if m.dampenerStore == nil {
		m.dampenerStore = dampener.New(dampener.DefaultConfig())
	}
	m.provenanceSt, _ = provenance.Load(pathFor(cfg.Path, ".provenance"))
	if m.provenanceSt == nil {
		m.provenanceSt = provenance.New()
	}
	m.realms, _ = realm.Load(pathFor(cfg.Path, ".realm_scoping"))
	if m.realms == nil {
		m.realms = realm.New()
	}
	m.contradictions, _ = truth.Load(pathFor(cfg.Path, ".truth_maintenance"))
	if m.contradictions == nil {
		m.contradictions = truth.New()
	}
	m.synthesisQ, _ = synthesis.Load(pathFor(cfg.Path, ".synthesis_queue"))
	if m.synthesisQ == nil {
		m.synthesisQ = synthesis.New()
	}
	m.gaps, _ = gap.Load(pathFor(cfg.Path, ".gap_inquiry"))
	if m.gaps == nil {
		m.gaps = gap.New()
	}
	m.reviews = review.New()

	hotCap := cfg.HotCapacity
	if hotCap <= 0 {
		hotCap = 1
	}
	m.hotTier, _ = lru.New[nodeid.SlotId, struct{}](hotCap)

	m.decayLimiter = rate.NewLimiter(rate.Every(time.Duration(cfg.DecayIntervalMs)*time.Millisecond), 1)
	m.checkpointLimiter = rate.NewLimiter(rate.Every(time.Duration(cfg.CheckpointIntervalMs)*time.Millisecond), 1)

	m.ann = ann.New(ann.DefaultConfig(), annSource{m}, time.Now().UnixNano())

	if err := m.replayWALLocked(); err != nil {
		m.log.Warn("wal replay encountered an error, continuing with recovered state", "err", err)
	}
	m.rebuildANNLocked()

	return m, nil
}

// annSource adapts the Mind's unified index to ann.VectorSource.
type annSource struct{ m *Mind }

func (a annSource) Vector(slot nodeid.SlotId) ([]float32, bool) {
	n, ok := a.m.index.Get(slot)
	if !ok {
		return nil, false
	}
	return n.Embedding, true
}

func (m *Mind) rebuildANNLocked() {
	m.index.ForEachSlot(func(slot nodeid.SlotId, _ unified.Node) bool {
		_ = m.ann.Insert(slot)
		return true
	})
}

func (m *Mind) rebuildBM25Locked() {
	m.index.ForEachSlot(func(slot nodeid.SlotId, n unified.Node) bool {
		m.bm25.Add(slot, string(n.Payload))
		return true
	})
}

// Close flushes and closes every owned resource in reverse open order,
// per spec §5.
func (m *Mind) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	_ = m.gaps.Save(pathFor(m.cfg.Path, ".gap_inquiry"))
	_ = m.synthesisQ.Save(pathFor(m.cfg.Path, ".synthesis_queue"))
	_ = m.contradictions.Save(pathFor(m.cfg.Path, ".truth_maintenance"))
	_ = m.realms.Save(pathFor(m.cfg.Path, ".realm_scoping"))
	_ = m.provenanceSt.Save(pathFor(m.cfg.Path, ".provenance"))
	_ = m.dampenerStore.Save(pathFor(m.cfg.Path, ".attractor_dampener"))
	_ = m.utilityTracker.Save(pathFor(m.cfg.Path, ".utility_decay"))
	if m.triplets != nil {
		_ = m.triplets.Checkpoint()
		_ = m.triplets.Close()
	}
	_ = m.tags.Save(pathFor(m.cfg.Path, ".tags"))

	var firstErr error
	if err := m.w.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.pool.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.index.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.log.Sync(); err != nil && firstErr == nil {
		// Syncing a console logger commonly errors on non-tty fds; not
		// fatal to close().
		m.log.Debug("logger sync", "err", err)
	}
	return firstErr
}

// Snapshot produces a read-only copy of the unified index and bumps the
// snapshot counter, returning it.
func (m *Mind) Snapshot() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	destPath := fmt.Sprintf("%s.snapshot.%d", m.cfg.Path, time.Now().UnixNano())
	if err := m.index.Snapshot(destPath); err != nil {
		return 0, wrapErr("snapshot", err)
	}
	return uint64(m.index.SlotsInUse()), nil
}
