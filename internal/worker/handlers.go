package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"async-task-api/internal/config"
	"async-task-api/internal/models"
)

// Per-type default simulated durations, clamped to the configured range.
const (
	computeDuration     = 30 * time.Second
	reportDuration      = 25 * time.Second
	unstableDuration    = 20 * time.Second
	batchNotifyDuration = 15 * time.Second
)

const defaultFailRatio = 0.5

var defaultSections = []string{"overview", "details", "summary"}

// handlerSet holds the shared knobs for the built-in simulated handlers.
type handlerSet struct {
	minTime time.Duration
	maxTime time.Duration
	tick    time.Duration

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

func registerBuiltins(p *Processor, cfg config.Config) {
	h := &handlerSet{
		minTime: cfg.TaskMinTime,
		maxTime: cfg.TaskMaxTime,
		tick:    cfg.ProgressTick,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	p.RegisterHandler(models.TypeCompute, h.compute)
	p.RegisterHandler(models.TypeReport, h.report)
	p.RegisterHandler(models.TypeBatchNotify, h.batchNotify)
	p.RegisterHandler(models.TypeUnstable, h.unstable)
}

func (h *handlerSet) compute(ctx context.Context, exec *Execution) (any, error) {
	var params models.ComputeParams
	if err := json.Unmarshal(exec.Task.Parameters, &params); err != nil {
		return nil, fmt.Errorf("decode compute parameters: %w", err)
	}
	if err := h.simulate(ctx, exec, h.duration(computeDuration, params.DurationMs)); err != nil {
		return nil, err
	}
	var sum float64
	for _, n := range params.Numbers {
		sum += n
	}
	return sum, nil
}

func (h *handlerSet) report(ctx context.Context, exec *Execution) (any, error) {
	var params models.ReportParams
	if err := json.Unmarshal(exec.Task.Parameters, &params); err != nil {
		return nil, fmt.Errorf("decode report parameters: %w", err)
	}
	if err := h.simulate(ctx, exec, h.duration(reportDuration, params.DurationMs)); err != nil {
		return nil, err
	}
	sections := params.Sections
	if len(sections) == 0 {
		sections = defaultSections
	}
	return fmt.Sprintf("%s: %s", params.Title, strings.Join(sections, ", ")), nil
}

func (h *handlerSet) batchNotify(ctx context.Context, exec *Execution) (any, error) {
	var params models.BatchNotifyParams
	if err := json.Unmarshal(exec.Task.Parameters, &params); err != nil {
		return nil, fmt.Errorf("decode batch-notify parameters: %w", err)
	}
	if err := h.simulate(ctx, exec, h.duration(batchNotifyDuration, params.DurationMs)); err != nil {
		return nil, err
	}
	if h.chance(0.2) {
		return nil, errors.New("notification provider temporary failure")
	}
	return map[string]any{"delivered": len(params.Emails)}, nil
}

func (h *handlerSet) unstable(ctx context.Context, exec *Execution) (any, error) {
	var params models.UnstableParams
	if err := json.Unmarshal(exec.Task.Parameters, &params); err != nil {
		return nil, fmt.Errorf("decode unstable parameters: %w", err)
	}
	if err := h.simulate(ctx, exec, h.duration(unstableDuration, params.DurationMs)); err != nil {
		return nil, err
	}
	ratio := defaultFailRatio
	if params.FailRatio != nil {
		ratio = *params.FailRatio
	}
	if h.chance(ratio) {
		return nil, errors.New("unstable task failed randomly")
	}
	return map[string]any{"ok": true}, nil
}

// simulate runs one continuous processing phase of the given total duration,
// publishing progress and remaining-time once per tick. The cancel flag is
// checked at every tick, so acknowledgment latency is bounded by one tick.
func (h *handlerSet) simulate(ctx context.Context, exec *Execution, total time.Duration) error {
	start := time.Now()
	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	for {
		if exec.Cancelled() {
			return ErrCancelled
		}

		elapsed := time.Since(start)
		remaining := total - elapsed
		if remaining <= 0 {
			return nil
		}

		percent := int(elapsed * 100 / total)
		eta := int((remaining + time.Second - 1) / time.Second)
		exec.SetProgress(models.Progress{
			Percent:    percent,
			Message:    fmt.Sprintf("%d%% remaining", 100-percent),
			EtaSeconds: &eta,
		})

		select {
		case <-ctx.Done():
			// Shutdown interrupts simulated work the same way a cancel does.
			return ErrCancelled
		case <-ticker.C:
		}
	}
}

// duration resolves the simulated duration: the caller-provided duration_ms
// when present, otherwise the per-type default, clamped to the configured
// range either way.
func (h *handlerSet) duration(def time.Duration, durationMs int) time.Duration {
	d := def
	if durationMs > 0 {
		d = time.Duration(durationMs) * time.Millisecond
	}
	if d < h.minTime {
		d = h.minTime
	}
	if d > h.maxTime {
		d = h.maxTime
	}
	return d
}

func (h *handlerSet) chance(ratio float64) bool {
	if ratio <= 0 {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rng.Float64() < ratio
}
