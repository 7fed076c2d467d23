package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) ticker

type dispatchRunner interface {
	Tick(ctx context.Context) error
}

// startDispatchWorker drives the dispatcher on a fixed cadence. The returned
// function stops the worker and blocks until the in-flight tick finishes.
func startDispatchWorker(ctx context.Context, logger *slog.Logger, dispatcher dispatchRunner, interval time.Duration) func() {
	return startDispatchWorkerWithTicker(ctx, logger, dispatcher, interval, func(d time.Duration) ticker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startDispatchWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	dispatcher dispatchRunner,
	interval time.Duration,
	newTicker tickerFactory,
) func() {
	if dispatcher == nil || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	tick := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			tick.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-tick.C():
				if err := dispatcher.Tick(workerCtx); err != nil && logger != nil {
					logger.Error("dispatch tick failed", "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
