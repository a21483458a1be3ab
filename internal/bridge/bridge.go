// Package bridge runs the outer firmware loop: one decoder scan and one
// transport pump step per iteration, cooperatively and single-threaded.
// Every wait in here is deadline-bounded.
package bridge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hidbridge/hidbridge/internal/blesvc"
	"github.com/hidbridge/hidbridge/internal/hidreport"
	"github.com/hidbridge/hidbridge/internal/ps2"
	"github.com/hidbridge/hidbridge/internal/sdep"
)

type Bridge struct {
	log       *zap.Logger
	matrix    *ps2.Matrix
	decoder   *ps2.Decoder
	builder   *hidreport.Builder
	transport *blesvc.Transport
	clock     sdep.Clock
	interval  time.Duration
}

type Option func(*Bridge)

func WithClock(c sdep.Clock) Option {
	return func(b *Bridge) { b.clock = c }
}

// WithScanInterval sets the pacing sleep between loop iterations.
func WithScanInterval(d time.Duration) Option {
	return func(b *Bridge) { b.interval = d }
}

func New(log *zap.Logger, matrix *ps2.Matrix, decoder *ps2.Decoder,
	builder *hidreport.Builder, transport *blesvc.Transport, opts ...Option) *Bridge {
	b := &Bridge{
		log:       log,
		matrix:    matrix,
		decoder:   decoder,
		builder:   builder,
		transport: transport,
		clock:     sdep.WallClock{},
		interval:  time.Millisecond,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Step performs one loop iteration: scan, report, pump.
func (b *Bridge) Step(ctx context.Context) {
	b.decoder.Scan()
	if b.matrix.Modified() {
		b.builder.Update()
	}
	b.transport.Task(ctx)
}

// Run alternates Step with the pacing sleep until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.log.Info("bridge loop started")
	for {
		select {
		case <-ctx.Done():
			b.log.Info("bridge loop stopped")
			return nil
		default:
		}
		b.Step(ctx)
		b.clock.Sleep(b.interval)
	}
}
