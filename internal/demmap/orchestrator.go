package demmap

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pocky-solar/dem-pipeline/internal/common"
	"github.com/pocky-solar/dem-pipeline/internal/timeindex"
)

// Orchestrator walks the event tree, aligns channel frames against the
// reference channel and hands matched frame sets to the combiner.
type Orchestrator struct {
	InputRoot  string
	OutputRoot string

	// Event restricts the run to one event directory name.
	Event string
	// RefIndex restricts each event to a single reference frame; -1 means
	// all frames.
	RefIndex int

	RefChannel int
	Tolerance  time.Duration

	Combiner *Combiner
	Format   string

	// Workers is the pool size; 0 or 1 runs frames serially. Chunk is the
	// number of tasks handed to a worker at once.
	Workers int
	Chunk   int

	Stats *common.Stats
}

// task is one reference frame with its matched channel paths.
type task struct {
	event string
	stamp string
	paths []string
}

// Run processes every selected event. The first fatal frame error cancels
// outstanding work and is returned; alignment misses and absent reference
// channels only skip.
func (o *Orchestrator) Run(ctx context.Context) error {
	events, err := ListEvents(o.InputRoot)
	if err != nil {
		return fmt.Errorf("listing events under %s: %w", o.InputRoot, err)
	}
	for _, event := range events {
		if o.Event != "" && event != o.Event {
			continue
		}
		if err := o.runEvent(ctx, event); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (o *Orchestrator) runEvent(ctx context.Context, event string) error {
	set, err := ScanEvent(filepath.Join(o.InputRoot, event), o.Combiner.Channels)
	if err != nil {
		return err
	}
	refIx, ok := set[o.RefChannel]
	if !ok {
		log.Printf("Skipping %s: no reference channel %d", event, o.RefChannel)
		return nil
	}

	refs := refIx.Entries()
	if o.RefIndex >= 0 {
		if o.RefIndex >= len(refs) {
			return nil
		}
		refs = refs[o.RefIndex : o.RefIndex+1]
	}

	var tasks []task
	for _, ref := range refs {
		matched := set.Match(ref.Time, o.Tolerance, o.Combiner.Channels)
		if matched == nil {
			if o.Stats != nil {
				o.Stats.AddSkipped(1)
			}
			continue
		}
		paths := make([]string, len(o.Combiner.Channels))
		for i, ch := range o.Combiner.Channels {
			paths[i] = matched[ch].Handle
		}
		tasks = append(tasks, task{event: event, stamp: timeindex.Stamp(ref.Time), paths: paths})
	}
	if len(tasks) == 0 {
		return nil
	}

	outDir := filepath.Join(o.OutputRoot, event)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	if o.Workers <= 1 {
		for _, t := range tasks {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := o.processTask(outDir, t); err != nil {
				return err
			}
		}
		return nil
	}

	chunk := o.Chunk
	if chunk < 1 {
		chunk = 1
	}
	sem := make(chan struct{}, o.Workers)
	var wg sync.WaitGroup

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var firstErr error
	var errOnce sync.Once

	for start := 0; start < len(tasks); start += chunk {
		end := start + chunk
		if end > len(tasks) {
			end = len(tasks)
		}
		batch := tasks[start:end]

		select {
		case sem <- struct{}{}:
		case <-runCtx.Done():
			wg.Wait()
			if firstErr != nil {
				return firstErr
			}
			return runCtx.Err()
		}
		wg.Add(1)
		go func(batch []task) {
			defer wg.Done()
			defer func() { <-sem }()
			for _, t := range batch {
				if runCtx.Err() != nil {
					return
				}
				if err := o.processTask(outDir, t); err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})
					return
				}
			}
		}(batch)
	}
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func (o *Orchestrator) processTask(outDir string, t task) error {
	res, err := o.Combiner.Combine(t.event, t.paths)
	if err != nil {
		return err
	}
	base := filepath.Join(outDir, "dem_"+t.stamp)
	if _, err := WriteMap(base, res, o.Format, o.Combiner.History()); err != nil {
		return fmt.Errorf("writing %s: %w", base, err)
	}
	if o.Stats != nil {
		o.Stats.AddMaps(1)
		o.Stats.AddFrames(uint64(len(t.paths)))
	}
	return nil
}
