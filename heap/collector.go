package heap

import (
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// BackgroundCollector: periodic collections
// ---------------------------------------------------------------------------

// DefaultCollectInterval is the default period between background collections.
const DefaultCollectInterval = 30 * time.Second

// BackgroundCollector periodically collects a heap so that long-running
// processes reclaim garbage even when no allocation fails.
type BackgroundCollector struct {
	heap     *Heap
	interval time.Duration
	enabled  atomic.Bool
	stop     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex

	runs      atomic.Uint64
	lastStats atomic.Value // *CollectStats
}

// NewBackgroundCollector creates a collector for h. A non-positive interval
// selects DefaultCollectInterval.
func NewBackgroundCollector(h *Heap, interval time.Duration) *BackgroundCollector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	bc := &BackgroundCollector{heap: h, interval: interval}
	bc.enabled.Store(true)
	return bc
}

// Start begins the collection loop. Calling Start on a running collector
// does nothing.
func (bc *BackgroundCollector) Start() {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.stop != nil {
		return
	}
	bc.stop = make(chan struct{})
	bc.stopped = make(chan struct{})
	go bc.loop(bc.stop, bc.stopped)
}

// Stop halts the loop and waits for it to exit. Safe to call repeatedly.
func (bc *BackgroundCollector) Stop() {
	bc.mu.Lock()
	stopCh, stoppedCh := bc.stop, bc.stopped
	bc.stop, bc.stopped = nil, nil
	bc.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-stoppedCh
	}
}

// SetEnabled pauses or resumes collections without stopping the loop.
func (bc *BackgroundCollector) SetEnabled(enabled bool) { bc.enabled.Store(enabled) }

// Runs returns the number of collections this collector has performed.
func (bc *BackgroundCollector) Runs() uint64 { return bc.runs.Load() }

// LastStats returns the most recent collection's statistics, or nil.
func (bc *BackgroundCollector) LastStats() *CollectStats {
	v := bc.lastStats.Load()
	if v == nil {
		return nil
	}
	return v.(*CollectStats)
}

// CollectNow runs a collection immediately.
func (bc *BackgroundCollector) CollectNow() *CollectStats {
	stats := bc.heap.Collect()
	bc.runs.Add(1)
	bc.lastStats.Store(&stats)
	return &stats
}

func (bc *BackgroundCollector) loop(stopCh <-chan struct{}, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(bc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if bc.enabled.Load() {
				bc.CollectNow()
			}
		}
	}
}
