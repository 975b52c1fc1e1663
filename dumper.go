package hal

import (
	"context"
	"sync"
	"time"
)

// Dump reasons passed to DumpFunc and Observability.OnDumpStart.
const (
	DumpAuto     = "auto"
	DumpPeriodic = "periodic"
	DumpManual   = "manual"
	DumpClose    = "close"
)

// DumpFunc writes a full snapshot.
type DumpFunc func(ctx context.Context, reason string) error

// DumperConfig configures a Dumper.
type DumperConfig struct {
	// QuietWindow is the delay between the first mutation and the write that
	// absorbs every mutation made in between.
	QuietWindow time.Duration

	// Interval enables an unconditional periodic dump when positive.
	Interval time.Duration

	// AutoDump enables dumping after mutations.
	AutoDump bool

	Logger Logger
}

// Dumper coalesces persistence requests into full-snapshot writes. Two
// strategies can be active at once: auto-dump (a fixed quiet window opened by
// the first request) and a periodic timer.
type Dumper struct {
	dump DumpFunc
	cfg  DumperConfig

	mu      sync.Mutex
	auto    bool
	pending *time.Timer
	gen     uint64
	stopped bool
	ticking bool

	stop chan struct{}
	done chan struct{}
}

// NewDumper creates a Dumper and starts its periodic timer, if configured.
func NewDumper(dump DumpFunc, cfg DumperConfig) *Dumper {
	if cfg.QuietWindow <= 0 {
		cfg.QuietWindow = time.Second
	}
	d := &Dumper{
		dump: dump,
		cfg:  cfg,
		auto: cfg.AutoDump,
	}
	d.mu.Lock()
	d.startTickerLocked()
	d.mu.Unlock()
	return d
}

func (d *Dumper) startTickerLocked() {
	if d.cfg.Interval <= 0 || d.ticking || d.stopped {
		return
	}
	d.ticking = true
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.tick(d.cfg.Interval, d.stop, d.done)
}

// stopTickerLocked signals the ticker goroutine and returns a channel closed
// once it has exited.
func (d *Dumper) stopTickerLocked() <-chan struct{} {
	if !d.ticking {
		return nil
	}
	d.ticking = false
	close(d.stop)
	return d.done
}

func (d *Dumper) tick(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.run(context.Background(), DumpPeriodic)
		}
	}
}

// SetAutoDump enables or disables auto-dump. Disabling cancels a pending
// auto-dump but leaves manual and periodic dumps working.
func (d *Dumper) SetAutoDump(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.auto = enabled
	if !enabled {
		d.cancelLocked()
	}
}

// AutoDump reports whether auto-dump is enabled.
func (d *Dumper) AutoDump() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.auto
}

// Request records a mutation. The first request opens the quiet window;
// requests made while it is open are absorbed by the same write. A periodic
// timer torn down by Reset starts again.
func (d *Dumper) Request() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.startTickerLocked()
	if !d.auto || d.stopped || d.pending != nil {
		return
	}
	gen := d.gen
	d.pending = time.AfterFunc(d.cfg.QuietWindow, func() {
		d.mu.Lock()
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		d.pending = nil
		d.mu.Unlock()

		d.run(context.Background(), DumpAuto)
	})
}

// Pending reports whether an auto-dump is scheduled.
func (d *Dumper) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Flush cancels a pending auto-dump and writes immediately.
func (d *Dumper) Flush(ctx context.Context) error {
	d.Cancel()
	return d.dump(ctx, DumpManual)
}

// Cancel drops a pending auto-dump without writing.
func (d *Dumper) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

func (d *Dumper) cancelLocked() {
	d.gen++
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
}

// Reset drops a pending auto-dump and tears down the periodic timer until
// the next Request. A periodic dump already running completes first.
func (d *Dumper) Reset() {
	d.mu.Lock()
	d.cancelLocked()
	done := d.stopTickerLocked()
	d.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Stop cancels pending work and stops the periodic timer for good. It is
// safe to call more than once.
func (d *Dumper) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.cancelLocked()
	done := d.stopTickerLocked()
	d.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (d *Dumper) run(ctx context.Context, reason string) {
	if err := d.dump(ctx, reason); err != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Error("dump failed", "reason", reason, "error", err)
	}
}
