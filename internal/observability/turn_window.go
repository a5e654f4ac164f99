package observability

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// StageStats summarizes the recent latency samples of one reply stage.
type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  bool    `json:"over_target,omitempty"`
}

// OutcomeShare is one outcome's part of the recent replies or compressions.
type OutcomeShare struct {
	Outcome string  `json:"outcome"`
	Count   int     `json:"count"`
	Ratio   float64 `json:"ratio"`
}

// StageSnapshot is the body of /v1/perf/latency.
type StageSnapshot struct {
	GeneratedAt  time.Time      `json:"generated_at"`
	WindowSize   int            `json:"window_size"`
	Stages       []StageStats   `json:"stages"`
	Replies      []OutcomeShare `json:"replies,omitempty"`
	Compressions []OutcomeShare `json:"compressions,omitempty"`
	// CompressionsPerReply compares the two outcome windows. Once summaries
	// exist it approaches 1 because every turn compresses.
	CompressionsPerReply float64 `json:"compressions_per_reply"`
}

// stageTargetsMS are the p95 budgets reported next to each stage.
var stageTargetsMS = map[string]float64{
	"context_build": 50,
	"persist":       100,
	"completion":    4000,
	"compression":   8000,
	"turn_total":    12000,
}

// turnWindow remembers the last N samples of every stage and the last N
// reply and compression outcomes of the conversation.
type turnWindow struct {
	mu           sync.Mutex
	size         int
	stages       map[string]*ring[float64]
	replies      *ring[string]
	compressions *ring[string]
}

func newTurnWindow(size int) *turnWindow {
	if size <= 0 {
		size = 256
	}
	return &turnWindow{
		size:         size,
		stages:       make(map[string]*ring[float64]),
		replies:      newRing[string](size),
		compressions: newRing[string](size),
	}
}

func (w *turnWindow) observeStage(stage string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.stages[stage]
	if !ok {
		r = newRing[float64](w.size)
		w.stages[stage] = r
	}
	r.push(float64(d.Microseconds()) / 1000)
}

func (w *turnWindow) observeReply(outcome string) {
	if outcome = strings.TrimSpace(outcome); outcome == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.replies.push(outcome)
}

func (w *turnWindow) observeCompression(outcome string) {
	if outcome = strings.TrimSpace(outcome); outcome == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.compressions.push(outcome)
}

func (w *turnWindow) snapshot(now time.Time) StageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := StageSnapshot{
		GeneratedAt:  now.UTC(),
		WindowSize:   w.size,
		Stages:       make([]StageStats, 0, len(w.stages)),
		Replies:      shares(w.replies.items()),
		Compressions: shares(w.compressions.items()),
	}
	for _, stage := range sortedKeys(w.stages) {
		r := w.stages[stage]
		if r.len() == 0 {
			continue
		}
		snap.Stages = append(snap.Stages, stageStats(stage, r))
	}
	if n := w.replies.len(); n > 0 {
		snap.CompressionsPerReply = round2(float64(w.compressions.len()) / float64(n))
	}
	return snap
}

func stageStats(stage string, r *ring[float64]) StageStats {
	samples := r.items()
	slices.Sort(samples)

	var sum float64
	for _, v := range samples {
		sum += v
	}
	st := StageStats{
		Stage:       stage,
		Samples:     len(samples),
		LastMS:      round2(r.last),
		AvgMS:       round2(sum / float64(len(samples))),
		P50MS:       round2(quantile(samples, 0.50)),
		P95MS:       round2(quantile(samples, 0.95)),
		P99MS:       round2(quantile(samples, 0.99)),
		TargetP95MS: stageTargetsMS[stage],
	}
	st.OverTarget = st.TargetP95MS > 0 && st.P95MS > st.TargetP95MS
	return st
}

// shares counts outcomes, most frequent first.
func shares(outcomes []string) []OutcomeShare {
	if len(outcomes) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, o := range outcomes {
		counts[o]++
	}
	out := make([]OutcomeShare, 0, len(counts))
	for _, o := range sortedKeys(counts) {
		out = append(out, OutcomeShare{
			Outcome: o,
			Count:   counts[o],
			Ratio:   round2(float64(counts[o]) / float64(len(outcomes))),
		})
	}
	slices.SortStableFunc(out, func(a, b OutcomeShare) int { return b.Count - a.Count })
	return out
}

// ring is a fixed-capacity buffer that overwrites its oldest entry.
type ring[T any] struct {
	values []T
	next   int
	full   bool
	last   T
}

func newRing[T any](size int) *ring[T] {
	return &ring[T]{values: make([]T, size)}
}

func (r *ring[T]) push(v T) {
	r.values[r.next] = v
	r.last = v
	r.next = (r.next + 1) % len(r.values)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring[T]) len() int {
	if r.full {
		return len(r.values)
	}
	return r.next
}

// items returns a copy of the stored values in no particular order.
func (r *ring[T]) items() []T {
	return slices.Clone(r.values[:r.len()])
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
