package cache

// Metrics receives cache events. Implementations must be safe for
// concurrent use; they are called with the cache lock held and must not
// call back into the cache.
type Metrics interface {
	RecordHit()
	RecordMiss()

	// RecordEviction is called once per removed entry; reason is
	// "capacity" or "expired".
	RecordEviction(reason string)

	RecordSize(entries int, bytes int64)
}

type noopMetrics struct{}

func (noopMetrics) RecordHit()                          {}
func (noopMetrics) RecordMiss()                         {}
func (noopMetrics) RecordEviction(reason string)        {}
func (noopMetrics) RecordSize(entries int, bytes int64) {}
