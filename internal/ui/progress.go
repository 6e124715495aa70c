package ui

import (
	"sync"
	"time"
)

const (
	// speedInterval is the minimum gap between throughput samples.
	speedInterval = 500 * time.Millisecond
	// etaSmoothing weighs a new ETA estimate against the previous one.
	etaSmoothing = 0.3
)

// ProgressTracker turns processed counts into rate and ETA figures.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu        sync.Mutex
	now       func() time.Time
	stage     Stage
	current   int
	total     int
	started   time.Time
	errors    int
	warnings  int
	lastETA   time.Duration
	lastCount int
	lastTime  time.Time
	speed     float64
	avgSpeed  float64
	peakSpeed float64
	samples   int
	spark     *Sparkline
}

// ProgressStats is a snapshot of a tracker.
type ProgressStats struct {
	Stage      Stage
	Current    int
	Total      int
	Progress   float64
	ETA        time.Duration
	Elapsed    time.Duration
	Speed      float64
	AvgSpeed   float64
	PeakSpeed  float64
	ErrorCount int
	WarnCount  int
}

// NewProgressTracker creates a tracker in the counting stage.
func NewProgressTracker() *ProgressTracker {
	return newProgressTracker(time.Now)
}

func newProgressTracker(now func() time.Time) *ProgressTracker {
	t := now()
	return &ProgressTracker{
		now:      now,
		started:  t,
		lastTime: t,
		spark:    NewSparkline(60),
	}
}

// SetStage moves to stage and resets the count and rate figures.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stage == p.stage {
		p.total = total
		return
	}
	p.stage = stage
	p.total = total
	p.current = 0
	p.lastCount = 0
	p.lastTime = p.now()
	p.lastETA = 0
	p.speed, p.avgSpeed, p.peakSpeed, p.samples = 0, 0, 0, 0
	p.spark.Clear()
}

// Update records the processed count. Rate samples are taken at most every
// speedInterval.
func (p *ProgressTracker) Update(current, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if total > 0 {
		p.total = total
	}

	now := p.now()
	elapsed := now.Sub(p.lastTime)
	if elapsed < speedInterval {
		return
	}
	if delta := current - p.lastCount; delta > 0 {
		p.speed = float64(delta) / elapsed.Seconds()
		p.samples++
		if p.samples == 1 {
			p.avgSpeed = p.speed
		} else {
			p.avgSpeed = 0.2*p.speed + 0.8*p.avgSpeed
		}
		if p.speed > p.peakSpeed {
			p.peakSpeed = p.speed
		}
		p.spark.Add(p.speed)
	}
	p.lastCount = current
	p.lastTime = now
}

// AddError counts an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event.IsWarn {
		p.warnings++
	} else {
		p.errors++
	}
}

// Stats returns a snapshot including a smoothed ETA.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	progress := 0.0
	if p.total > 0 {
		progress = min(float64(p.current)/float64(p.total), 1)
	}
	return ProgressStats{
		Stage:      p.stage,
		Current:    p.current,
		Total:      p.total,
		Progress:   progress,
		ETA:        p.eta(progress),
		Elapsed:    p.now().Sub(p.started),
		Speed:      p.speed,
		AvgSpeed:   p.avgSpeed,
		PeakSpeed:  p.peakSpeed,
		ErrorCount: p.errors,
		WarnCount:  p.warnings,
	}
}

// eta must be called with mu held.
func (p *ProgressTracker) eta(progress float64) time.Duration {
	if progress <= 0 || progress >= 1 {
		return 0
	}
	elapsed := p.now().Sub(p.started)
	raw := time.Duration(float64(elapsed)/progress) - elapsed
	if raw < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = raw
		return raw
	}
	p.lastETA = time.Duration(etaSmoothing*float64(raw) + (1-etaSmoothing)*float64(p.lastETA))
	return p.lastETA
}

// Sparkline renders the throughput history at width.
func (p *ProgressTracker) Sparkline(width int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spark.Render(width)
}
