package cache

// EvictReason says which policy forced an entry out.
type EvictReason int

// Eviction reasons reported to Metrics.Evict.
const (
	// EvictLost: the state referenced a file that no longer exists.
	EvictLost EvictReason = iota
	// EvictFreeSpace: free disk space fell below MinFreeSpace.
	EvictFreeSpace
	// EvictSize: tracked bytes exceeded MaxSize.
	EvictSize
	// EvictItems: tracked count exceeded MaxItems.
	EvictItems
)

// Metrics receives cache observability events. Implementations must be
// safe for concurrent use; a Prometheus-backed one lives in
// metrics/prom.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason, size int64)
	Size(entries int, bytes int64)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
// It is the default when no observability backend is configured.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                     {}
func (NoopMetrics) Miss()                    {}
func (NoopMetrics) Evict(EvictReason, int64) {}
func (NoopMetrics) Size(int, int64)          {}

var _ Metrics = NoopMetrics{}
