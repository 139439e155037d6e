package ui

import (
	"sort"
	"sync"
	"time"
)

// maxFinishedJobs caps how many terminal jobs stay on the board so a
// long-running watch does not accumulate rows without bound.
const maxFinishedJobs = 8

// StatusBoard aggregates job updates and queue snapshots into a
// renderable state. It is safe for concurrent use.
type StatusBoard struct {
	mu    sync.RWMutex
	conn  ConnState
	queue QueueSnapshot
	jobs  map[string]JobUpdate

	// Throughput tracking over queue.Completed deltas.
	lastCompleted int
	lastSpeedCalc time.Time
	currentSpeed  float64
	avgSpeed      float64
	peakSpeed     float64
	speedSamples  int
	sparkline     *Sparkline
}

// SpeedStats contains completion throughput metrics for display.
type SpeedStats struct {
	Current float64 // Current docs/sec
	Avg     float64 // Rolling average
	Peak    float64 // Maximum observed
}

// BoardStats is a snapshot of the board for rendering.
type BoardStats struct {
	Conn   ConnState
	Queue  QueueSnapshot
	Jobs   []JobUpdate // active first, then finished, newest update first
	Speed  SpeedStats
	Failed []JobUpdate
}

// NewStatusBoard creates an empty board.
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{
		conn:          ConnConnecting,
		jobs:          make(map[string]JobUpdate),
		lastSpeedCalc: time.Now(),
		sparkline:     NewSparkline(60),
	}
}

// SetConnState records the event stream connection state.
func (b *StatusBoard) SetConnState(state ConnState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conn = state
}

// UpdateJob records a processing update, replacing any previous state
// for the same document.
func (b *StatusBoard) UpdateJob(job JobUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if job.At.IsZero() {
		job.At = time.Now()
	}
	b.jobs[job.DocID] = job
	b.pruneFinished()
}

// UpdateQueue records new queue counters and samples completion
// throughput from the completed-count delta.
func (b *StatusBoard) UpdateQueue(queue QueueSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.queue = queue

	// Sample speed at most every 500ms to avoid noise.
	now := time.Now()
	elapsed := now.Sub(b.lastSpeedCalc)
	if elapsed < 500*time.Millisecond {
		return
	}

	delta := queue.Completed - b.lastCompleted
	if delta > 0 {
		speed := float64(delta) / elapsed.Seconds()
		b.currentSpeed = speed

		b.speedSamples++
		if b.speedSamples == 1 {
			b.avgSpeed = speed
		} else {
			// Smoothing factor 0.2 gives responsive but stable average
			b.avgSpeed = 0.2*speed + 0.8*b.avgSpeed
		}

		if speed > b.peakSpeed {
			b.peakSpeed = speed
		}

		b.sparkline.Add(speed)
	}

	b.lastCompleted = queue.Completed
	b.lastSpeedCalc = now
}

// Stats returns a renderable snapshot.
func (b *StatusBoard) Stats() BoardStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	jobs := make([]JobUpdate, 0, len(b.jobs))
	var failed []JobUpdate
	for _, j := range b.jobs {
		jobs = append(jobs, j)
		if j.Failed() {
			failed = append(failed, j)
		}
	}

	sort.Slice(jobs, func(i, k int) bool {
		di, dk := stageDone(jobs[i].Stage), stageDone(jobs[k].Stage)
		if di != dk {
			return !di // active jobs first
		}
		return jobs[i].At.After(jobs[k].At)
	})
	sort.Slice(failed, func(i, k int) bool {
		return failed[i].At.After(failed[k].At)
	})

	return BoardStats{
		Conn:  b.conn,
		Queue: b.queue,
		Jobs:  jobs,
		Speed: SpeedStats{
			Current: b.currentSpeed,
			Avg:     b.avgSpeed,
			Peak:    b.peakSpeed,
		},
		Failed: failed,
	}
}

// RenderSparkline returns the throughput sparkline string.
func (b *StatusBoard) RenderSparkline(width int) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.sparkline == nil {
		return ""
	}

	if width <= 0 {
		return b.sparkline.Render()
	}
	return b.sparkline.RenderWithWidth(width)
}

// pruneFinished drops the oldest terminal jobs beyond the cap.
// Must be called with the lock held.
func (b *StatusBoard) pruneFinished() {
	var done []JobUpdate
	for _, j := range b.jobs {
		if stageDone(j.Stage) {
			done = append(done, j)
		}
	}
	if len(done) <= maxFinishedJobs {
		return
	}

	sort.Slice(done, func(i, k int) bool {
		return done[i].At.Before(done[k].At)
	})
	for _, j := range done[:len(done)-maxFinishedJobs] {
		delete(b.jobs, j.DocID)
	}
}
