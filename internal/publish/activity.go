package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/catalogops/sitemap-publisher/pkg/metrics"
	"github.com/catalogops/sitemap-publisher/pkg/redis"
)

// Batch kinds partitioning the publishing lock and labeling activity entries.
const (
	KindSitemap = "sitemap"
	KindAlgolia = "algolia"
)

// activityCapacity bounds the ledger; the oldest entry is evicted first.
const activityCapacity = 40

// activityKey is the Redis key holding the serialized ledger blob.
const activityKey = "publishing:activity"

// ErrorItem is one failed object within a run, exported row-for-row in the
// CSV error report.
type ErrorItem struct {
	Slug       string `json:"slug"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	Identifier string `json:"identifier"`
}

// Entry records the outcome of one publish run. Counts satisfy
// success + skipped <= processed <= requested.
type Entry struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Requested  int            `json:"requested"`
	Processed  int            `json:"processed"`
	Success    int            `json:"success"`
	Skipped    int            `json:"skipped"`
	Errors     int            `json:"errors"`
	DurationMS int64          `json:"duration_ms"`
	FinishedAt string         `json:"finished_at"`
	Message    string         `json:"message"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ErrorItems []ErrorItem    `json:"error_items,omitempty"`
}

// clone deep-copies the entry so stored state can never be mutated through a
// caller-held reference.
func (e Entry) clone() Entry {
	out := e
	if e.Metadata != nil {
		out.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	if e.ErrorItems != nil {
		out.ErrorItems = make([]ErrorItem, len(e.ErrorItems))
		copy(out.ErrorItems, e.ErrorItems)
	}
	return out
}

// ActivityLog is the append-only run ledger. Record finalizes the entry with
// an id and timestamp; entries are never edited afterwards, only evicted.
type ActivityLog interface {
	Record(ctx context.Context, entry Entry) Entry
	List(ctx context.Context) []Entry
	Get(ctx context.Context, id string) (Entry, bool)
	Clear(ctx context.Context)
}

// ---------- In-memory log ----------

type memoryLog struct {
	mu      sync.Mutex
	entries []Entry // oldest first
	counter int
	metrics *metrics.Metrics
}

// NewMemoryLog creates the in-process ledger variant. m may be nil.
func NewMemoryLog(m *metrics.Metrics) ActivityLog {
	return &memoryLog{metrics: m}
}

func (l *memoryLog) Record(_ context.Context, entry Entry) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.append(entry)
}

// append finalizes and stores the entry. Callers hold l.mu.
func (l *memoryLog) append(entry Entry) Entry {
	l.counter++
	entry.ID = fmt.Sprintf("run-%d", l.counter)
	if entry.FinishedAt == "" {
		entry.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	}
	l.entries = append(l.entries, entry.clone())
	if len(l.entries) > activityCapacity {
		l.entries = l.entries[len(l.entries)-activityCapacity:]
	}
	l.setGauge()
	return entry.clone()
}

func (l *memoryLog) List(_ context.Context) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		out = append(out, l.entries[i].clone())
	}
	return out
}

func (l *memoryLog) Get(_ context.Context, id string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].ID == id {
			return l.entries[i].clone(), true
		}
	}
	return Entry{}, false
}

func (l *memoryLog) Clear(_ context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.setGauge()
}

// snapshot returns the entries oldest-first for persistence. Callers hold
// l.mu.
func (l *memoryLog) snapshot() []Entry {
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.clone()
	}
	return out
}

// restore seeds the ledger and resumes the id counter past the highest
// restored run number so ids stay monotonic across restarts.
func (l *memoryLog) restore(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(entries) > activityCapacity {
		entries = entries[len(entries)-activityCapacity:]
	}
	l.entries = entries
	for _, e := range entries {
		if n, ok := runNumber(e.ID); ok && n > l.counter {
			l.counter = n
		}
	}
	l.setGauge()
}

func (l *memoryLog) setGauge() {
	if l.metrics != nil {
		l.metrics.ActivityEntries.Set(float64(len(l.entries)))
	}
}

func runNumber(id string) (int, bool) {
	raw, ok := strings.CutPrefix(id, "run-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// ---------- Redis-backed log ----------

// KV is the key-value slice of the Redis client the durable log needs. Kept
// narrow so tests can substitute a map-backed fake.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type redisLog struct {
	mem    *memoryLog
	kv     KV
	logger *slog.Logger
}

// NewRedisLog creates the durable ledger variant: an in-memory mirror backed
// by a single serialized blob in Redis. The mirror stays authoritative when
// Redis misbehaves, so a flaky backend degrades durability, not reads.
func NewRedisLog(ctx context.Context, kv KV, m *metrics.Metrics) ActivityLog {
	l := &redisLog{
		mem:    &memoryLog{metrics: m},
		kv:     kv,
		logger: slog.Default().With("component", "activity-log"),
	}
	l.restore(ctx)
	return l
}

// restore loads the persisted blob. Malformed rows are dropped entry by
// entry rather than failing the whole restore.
func (l *redisLog) restore(ctx context.Context) {
	blob, err := l.kv.Get(ctx, activityKey)
	if err != nil {
		if !redis.IsNilError(err) {
			l.logger.Warn("activity restore failed, starting empty", "error", err)
		}
		return
	}
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(blob), &raw); err != nil {
		l.logger.Warn("activity blob corrupt, starting empty", "error", err)
		return
	}
	entries := make([]Entry, 0, len(raw))
	dropped := 0
	for _, msg := range raw {
		var e Entry
		if err := json.Unmarshal(msg, &e); err != nil || !validEntry(e) {
			dropped++
			continue
		}
		entries = append(entries, e)
	}
	if dropped > 0 {
		l.logger.Warn("dropped malformed activity entries", "dropped", dropped, "restored", len(entries))
	}
	l.mem.restore(entries)
}

// validEntry rejects rows missing the fields every recorded run has.
func validEntry(e Entry) bool {
	if e.Type == "" || e.FinishedAt == "" {
		return false
	}
	if _, ok := runNumber(e.ID); !ok {
		return false
	}
	if e.Requested < 0 || e.Processed < 0 || e.Success < 0 || e.Skipped < 0 || e.Errors < 0 {
		return false
	}
	return true
}

func (l *redisLog) Record(ctx context.Context, entry Entry) Entry {
	l.mem.mu.Lock()
	finalized := l.mem.append(entry)
	snapshot := l.mem.snapshot()
	l.mem.mu.Unlock()

	l.persist(ctx, snapshot)
	return finalized
}

func (l *redisLog) List(ctx context.Context) []Entry {
	return l.mem.List(ctx)
}

func (l *redisLog) Get(ctx context.Context, id string) (Entry, bool) {
	return l.mem.Get(ctx, id)
}

func (l *redisLog) Clear(ctx context.Context) {
	l.mem.Clear(ctx)
	if err := l.kv.Del(ctx, activityKey); err != nil {
		l.logger.Warn("activity clear failed in redis", "error", err)
	}
}

func (l *redisLog) persist(ctx context.Context, snapshot []Entry) {
	blob, err := json.Marshal(snapshot)
	if err != nil {
		l.logger.Error("activity snapshot marshal failed", "error", err)
		return
	}
	// No TTL: the ledger blob lives until explicitly cleared.
	if err := l.kv.Set(ctx, activityKey, blob, 0); err != nil {
		l.logger.Warn("activity persist failed, keeping in-memory copy", "error", err)
	}
}
