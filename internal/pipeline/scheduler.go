package pipeline

import (
	"context"
	"errors"
	"time"

	"clipforge/internal/logging"
)

// Start begins the background loops: dispatch, publish retry, and sweep.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("pipeline already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(3)
	p.mu.Unlock()

	go p.dispatchLoop(runCtx)
	go p.publishLoop(runCtx)
	go p.sweepLoop(runCtx)
	return nil
}

// Stop terminates background processing and waits for the loops to exit.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

// Running reports whether the background loops are active.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pipeline) dispatchLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		progressed, err := p.DispatchNext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Error("dispatch pass failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "dispatch_failed"),
				logging.String(logging.FieldErrorHint, "check pipeline database access"),
			)
			p.waitOrShutdown(ctx, p.errorRetryInterval())
			continue
		}
		if !progressed {
			p.waitOrShutdown(ctx, p.pollInterval())
		}
	}
}

func (p *Pipeline) publishLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		progressed, err := p.PublishNextDue(ctx, time.Now().UTC())
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Error("publish pass failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "publish_pass_failed"),
				logging.String(logging.FieldErrorHint, "check pipeline database access"),
			)
			p.waitOrShutdown(ctx, p.errorRetryInterval())
			continue
		}
		if !progressed {
			p.waitOrShutdown(ctx, p.pollInterval())
		}
	}
}

func (p *Pipeline) sweepLoop(ctx context.Context) {
	defer p.wg.Done()
	interval := time.Duration(p.cfg.Pipeline.SweepInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if err := p.Sweep(ctx, time.Now().UTC()); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Error("sweep pass failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "sweep_failed"),
				logging.String(logging.FieldErrorHint, "check pipeline database access"),
			)
		}
	}
}

func (p *Pipeline) waitOrShutdown(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (p *Pipeline) pollInterval() time.Duration {
	if p.cfg.Pipeline.PollInterval > 0 {
		return time.Duration(p.cfg.Pipeline.PollInterval) * time.Second
	}
	return 2 * time.Second
}

func (p *Pipeline) errorRetryInterval() time.Duration {
	if p.cfg.Pipeline.ErrorRetryInterval > 0 {
		return time.Duration(p.cfg.Pipeline.ErrorRetryInterval) * time.Second
	}
	return 5 * time.Second
}
