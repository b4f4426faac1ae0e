package pipeline

import (
	"sync/atomic"
	"time"
)

// Beacon is a per-stage progress marker: a monotonically increasing tick
// advanced whenever the stage produces output or enters a protected zone. A
// heartbeat scan declares a stage stuck if neither has happened for one
// interval.
type Beacon struct {
	tick       atomic.Int64
	inProtected atomic.Bool
}

// NewBeacon returns a Beacon at tick zero.
func NewBeacon() *Beacon { return &Beacon{} }

// Advance records progress.
func (b *Beacon) Advance() { b.tick.Add(1) }

// Tick returns the current tick count.
func (b *Beacon) Tick() int64 { return b.tick.Load() }

// Protected declares that the stage will not advance its tick while inside
// fn — a known-long I/O it doesn't want mistaken for being stuck — and
// should not be considered stuck meanwhile. It is the "protected zone"
// scope guard.
func (b *Beacon) Protected(fn func()) {
	b.inProtected.Store(true)
	defer b.inProtected.Store(false)
	fn()
}

// InProtectedZone reports whether the stage is currently inside a protected
// zone.
func (b *Beacon) InProtectedZone() bool { return b.inProtected.Load() }

// snapshot captures tick and protected-zone state for a single heartbeat
// scan, so "stuck" is judged against the delta since the prior scan.
type beaconSnapshot struct {
	tick      int64
	protected bool
}

// Heartbeat periodically scans a set of Beacons; if any has neither
// advanced its tick nor been inside a protected zone since the prior scan,
// it reports the stage as stuck via the onStuck callback. Heartbeat itself
// does not trip any abort signal; the CLI's onStuck only logs a warning.
type Heartbeat struct {
	interval time.Duration
	beacons  map[string]*Beacon
	last     map[string]beaconSnapshot
	onStuck  func(stage string)
	stop     chan struct{}
	stopped  chan struct{}
}

// NewHeartbeat constructs a Heartbeat over the given named beacons.
func NewHeartbeat(interval time.Duration, beacons map[string]*Beacon, onStuck func(stage string)) *Heartbeat {
	return &Heartbeat{
		interval: interval,
		beacons:  beacons,
		last:     make(map[string]beaconSnapshot, len(beacons)),
		onStuck:  onStuck,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Run scans on every interval until Stop is called. It should be launched in
// its own goroutine.
func (h *Heartbeat) Run() {
	defer close(h.stopped)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.scan()
		}
	}
}

func (h *Heartbeat) scan() {
	for name, b := range h.beacons {
		cur := beaconSnapshot{tick: b.Tick(), protected: b.InProtectedZone()}
		prev, ok := h.last[name]
		h.last[name] = cur
		if !ok {
			continue
		}
		if cur.tick == prev.tick && !cur.protected && !prev.protected {
			h.onStuck(name)
		}
	}
}

// Stop halts the scan loop and waits for it to exit.
func (h *Heartbeat) Stop() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
	<-h.stopped
}

// ObservableState is a typed snapshot of one stage's liveness and progress,
// merged into IndexingStatistics for the pipeline as a whole.
type ObservableState struct {
	Stage string
	Tick  int64
}

// IndexingStatistics aggregates counters across every stage of a pipeline.
type IndexingStatistics struct {
	NumDocsProcessed   atomic.Int64
	NumParseErrors     atomic.Int64
	NumSplitsPublished atomic.Int64
	NumSplitsStaged    atomic.Int64
	NumMergeOps        atomic.Int64
	NumRestarts        atomic.Int64
	Generation         atomic.Int64
}
