package training

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const sweepMinAge = time.Minute

// Sweeper periodically re-attempts archiving of session logs that are still
// on local disk.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	return &Sweeper{
		svc:      svc,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start launches the sweep loop in its own goroutine.
func (w *Sweeper) Start() {
	w.wg.Add(1)
	go w.loop()
	slog.Info("archive sweeper started", "interval", w.interval)
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (w *Sweeper) Stop() {
	close(w.stopChan)
	w.wg.Wait()
	slog.Info("archive sweeper stopped")
}

func (w *Sweeper) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.sweepOnce()
		}
	}
}

func (w *Sweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	res, err := w.svc.Sweep(ctx, sweepMinAge, time.Now())
	if err != nil {
		slog.Error("archive sweep failed", "error", err)
		return
	}
	if res.Archived > 0 || res.Failed > 0 {
		slog.Info("archive sweep complete", "archived", res.Archived, "failed", res.Failed)
	}
}
