// Package detector classifies trades as whale transactions using adaptive
// percentile thresholds over per-symbol rolling volume windows.
package detector

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Wayy-Research/wrdata/internal/domain/models"
	"github.com/Wayy-Research/wrdata/internal/domain/repository"
	"github.com/Wayy-Research/wrdata/internal/tracker"
	"github.com/Wayy-Research/wrdata/pkg/logger"
)

// Config holds detection tunables.
type Config struct {
	// WindowSize bounds each symbol's rolling window by entry count.
	WindowSize int
	// TimeWindow additionally bounds entries by age when positive.
	TimeWindow time.Duration
	// DefaultPercentile is the whale threshold in (0, 100].
	DefaultPercentile float64
	// MinUSDValue, when positive, is an absolute floor ANDed with the
	// percentile rule: a trade below it is never a whale regardless of rank.
	MinUSDValue float64
}

func (c *Config) applyDefaults() {
	if c.WindowSize <= 0 {
		c.WindowSize = 1000
	}
	if c.DefaultPercentile <= 0 || c.DefaultPercentile > 100 {
		c.DefaultPercentile = 99.0
	}
}

// Detector owns one tracker per symbol and classifies each trade against the
// window it just joined. A single mutex serializes all tracker mutation, so
// provider goroutines may call Process concurrently; the trackers themselves
// are not safe for shared use outside the detector.
type Detector struct {
	cfg Config
	log *logger.Logger

	mu  sync.Mutex
	reg *Registry
}

// New creates a Detector with its own tracker registry.
func New(cfg Config, log *logger.Logger) *Detector {
	cfg.applyDefaults()
	return &Detector{
		cfg: cfg,
		log: log,
		reg: NewRegistry(cfg.WindowSize, cfg.TimeWindow),
	}
}

// Process validates the trade, inserts its volume into the symbol's window
// and classifies it at the configured default percentile.
//
// The ordering is part of the contract: the value ranks against a window
// that already includes it.
func (d *Detector) Process(symbol string, volume, price float64, exchange string) (models.WhaleClassification, error) {
	return d.ProcessAt(symbol, volume, price, exchange, d.cfg.DefaultPercentile)
}

// ProcessAt is Process with a per-call percentile threshold.
func (d *Detector) ProcessAt(symbol string, volume, price float64, exchange string, threshold float64) (models.WhaleClassification, error) {
	if err := validate(volume, price); err != nil {
		return models.WhaleClassification{}, err
	}
	if threshold <= 0 || threshold > 100 {
		return models.WhaleClassification{}, fmt.Errorf("threshold %v out of (0,100]: %w", threshold, repository.ErrInvalidInput)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tr := d.reg.Get(symbol)
	if err := tr.Observe(volume, time.Now()); err != nil {
		return models.WhaleClassification{}, err
	}

	cls := models.WhaleClassification{Threshold: threshold}
	pct, rank, ok := tr.PercentileOf(volume)
	if !ok {
		// too few samples to rank; a classification outcome, not an error
		cls.InsufficientData = true
		return cls, nil
	}
	cls.Percentile = pct
	cls.Rank = rank
	cls.IsWhale = pct >= threshold
	if d.cfg.MinUSDValue > 0 && volume*price < d.cfg.MinUSDValue {
		cls.IsWhale = false
	}
	return cls, nil
}

// Enrich processes ev and returns a copy carrying the classification and
// computed USD value. The input event is not modified.
func (d *Detector) Enrich(ev models.TradeEvent) (models.TradeEvent, error) {
	cls, err := d.Process(ev.Symbol, ev.Size, ev.Price, ev.Exchange)
	if err != nil {
		return ev, err
	}
	ev.USDValue = ev.Size * ev.Price
	ev.Whale = &cls
	return ev, nil
}

// Statistics reports the current window summary for one symbol.
func (d *Detector) Statistics(symbol string) (models.SymbolStatistics, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tr, ok := d.reg.Lookup(symbol)
	if !ok {
		return models.SymbolStatistics{}, false
	}
	st, ok := tr.Stats()
	if !ok {
		return models.SymbolStatistics{}, false
	}
	st.Symbol = symbol
	return st, true
}

// AllStatistics aggregates per-symbol window summaries for diagnostics.
func (d *Detector) AllStatistics() map[string]models.SymbolStatistics {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]models.SymbolStatistics, d.reg.Len())
	for _, sym := range d.reg.Symbols() {
		tr, _ := d.reg.Lookup(sym)
		if st, ok := tr.Stats(); ok {
			st.Symbol = sym
			out[sym] = st
		}
	}
	return out
}

// ThresholdVolume reports the volume at the given percentile for symbol.
func (d *Detector) ThresholdVolume(symbol string, percentile float64) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tr, ok := d.reg.Lookup(symbol)
	if !ok {
		return 0, false
	}
	return tr.ThresholdVolume(percentile)
}

func validate(volume, price float64) error {
	if math.IsNaN(volume) || math.IsInf(volume, 0) || volume < 0 {
		return fmt.Errorf("volume %v: %w", volume, repository.ErrInvalidInput)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return fmt.Errorf("price %v: %w", price, repository.ErrInvalidInput)
	}
	return nil
}

// Registry maps symbols to their trackers. It is owned by exactly one
// Detector and injected nowhere else; there is no package-level instance.
// Symbols are never evicted, so a long-running process accumulates one
// tracker per symbol it has ever seen.
type Registry struct {
	windowSize int
	timeWindow time.Duration
	trackers   map[string]*tracker.Tracker
}

// NewRegistry creates an empty registry; trackers are created lazily on
// first Get for a symbol.
func NewRegistry(windowSize int, timeWindow time.Duration) *Registry {
	return &Registry{
		windowSize: windowSize,
		timeWindow: timeWindow,
		trackers:   make(map[string]*tracker.Tracker),
	}
}

// Get returns the symbol's tracker, creating it on first use.
func (r *Registry) Get(symbol string) *tracker.Tracker {
	tr, ok := r.trackers[symbol]
	if !ok {
		tr = tracker.New(r.windowSize, r.timeWindow)
		r.trackers[symbol] = tr
	}
	return tr
}

// Lookup returns the symbol's tracker without creating one.
func (r *Registry) Lookup(symbol string) (*tracker.Tracker, bool) {
	tr, ok := r.trackers[symbol]
	return tr, ok
}

// Len reports the number of tracked symbols.
func (r *Registry) Len() int { return len(r.trackers) }

// Symbols lists all tracked symbols.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.trackers))
	for sym := range r.trackers {
		out = append(out, sym)
	}
	return out
}
