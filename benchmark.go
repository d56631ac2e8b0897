package main

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"
)

type Benchmark struct {
	Warmup      int
	Attempts    int
	ClearCaches bool
}

type Measurement struct {
	Elapsed  float64
	Attempts int
}

func clearCaches() error {
	switch runtime.GOOS {
	case "linux":
		if err := exec.Command("sync").Run(); err != nil {
			return err
		}
		if err := exec.Command("sh", "-c", "echo 3 | sudo tee /proc/sys/vm/drop_caches").Run(); err != nil {
			return err
		}
		return nil
	case "darwin":
		if err := exec.Command("sync").Run(); err != nil {
			return err
		}
		if err := exec.Command("purge").Run(); err != nil {
			return err
		}
		return nil
	}
	return fmt.Errorf("unable to clear caches for platform '%v'", runtime.GOOS)
}

func (b *Benchmark) clearCachesIfNeeded() error {
	if !b.ClearCaches {
		return nil
	}
	Logger.Info("clear caches")
	return clearCaches()
}

// Measure times the whole session lifecycle per attempt: engine
// startup, read, filter, group, materialization and shutdown, the way a
// cold run would observe it. The table from the last attempt is
// returned for cross-checking between engines.
func (b *Benchmark) Measure(ctx context.Context, engine Engine, job Job) ([]Measurement, *Table, error) {
	for i := 0; i < b.Warmup; i++ {
		Logger.Infof("running warmup #%v/%v for engine %v", i+1, b.Warmup, engine.Name())
		if _, _, err := b.runOnce(ctx, engine, job); err != nil {
			return nil, nil, fmt.Errorf("warmup #%v failed: %w", i, err)
		}
	}
	var table *Table
	measurements := make([]Measurement, 0, b.Attempts)
	for i := 0; i < b.Attempts; i++ {
		if err := b.clearCachesIfNeeded(); err != nil {
			return nil, nil, err
		}
		Logger.Infof("running attempt #%v/%v for engine %v", i+1, b.Attempts, engine.Name())
		elapsed, result, err := b.runOnce(ctx, engine, job)
		if err != nil {
			return nil, nil, fmt.Errorf("attempt #%v failed: %w", i, err)
		}
		table = result
		measurements = append(measurements, Measurement{Elapsed: elapsed, Attempts: 1})
	}
	return measurements, table, nil
}

func (b *Benchmark) runOnce(ctx context.Context, engine Engine, job Job) (float64, *Table, error) {
	start := time.Now()
	session, err := engine.Open(job.Cores)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to open session for engine %v: %w", engine.Name(), err)
	}
	table, err := session.Query(ctx, job)
	closeErr := session.Close()
	elapsed := time.Since(start).Seconds()
	if err != nil {
		return 0, nil, err
	}
	if closeErr != nil {
		return 0, nil, closeErr
	}
	return elapsed, table, nil
}
