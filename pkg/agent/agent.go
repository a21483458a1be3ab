// Package agent wires the bridge together: configuration, hardware
// endpoints, the scan/transport loop, and status logging.
package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"tinygo.org/x/drivers"

	"github.com/hidbridge/hidbridge/internal/blesim"
	"github.com/hidbridge/hidbridge/internal/blesvc"
	"github.com/hidbridge/hidbridge/internal/bridge"
	"github.com/hidbridge/hidbridge/internal/configsvc"
	"github.com/hidbridge/hidbridge/internal/hidreport"
	"github.com/hidbridge/hidbridge/internal/ps2"
	"github.com/hidbridge/hidbridge/internal/sdep"
	"github.com/hidbridge/hidbridge/pkg/bus"
)

// Hardware bundles the physical endpoints the bridge drives. The actual
// SPI/GPIO drivers live outside this module; whatever provides them
// plugs in here.
type Hardware struct {
	SPI            drivers.SPI
	CS, IRQ, Reset sdep.Pin
	Source         ps2.Source
}

type Agent struct {
	config Config

	log       *zap.Logger
	configSvc *configsvc.Service
	hw        *Hardware
}

type Option func(*Agent)

// WithHardware supplies real hardware endpoints instead of the
// simulated coprocessor.
func WithHardware(hw Hardware) Option {
	return func(a *Agent) { a.hw = &hw }
}

func NewAgent(config Config, opts ...Option) (*Agent, error) {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &Agent{
		config:    config,
		log:       logger,
		configSvc: configsvc.New(logger.Named("config")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Agent) Log() *zap.Logger {
	return a.log
}

// Run starts the agent and blocks until the context is cancelled.
// Configuration changes after startup are only logged; the bridge keeps
// running with the configuration it started with.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.configSvc.Start(groupCtx)
	})
	group.Go(func() error {
		select {
		case <-groupCtx.Done():
			return nil
		case <-a.configSvc.Ready():
		}
		return a.runBridge(groupCtx)
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("agent failed: %w", err)
	}
	return nil
}

func (a *Agent) runBridge(ctx context.Context) error {
	bridgeCfg, err := configsvc.Register(a.configSvc, a.config.BridgeConfig, DefaultBridgeConfig(),
		func(cfg BridgeConfig, err error) {
			if err != nil {
				a.log.Error("Bridge config reload failed", zap.Error(err))
				return
			}
			// transport settings are applied by the init script; a
			// restart re-runs it
			a.log.Info("Bridge config changed, restart to apply")
		})
	if err != nil {
		return fmt.Errorf("failed to load bridge config: %w", err)
	}

	hw, err := a.hardware(bridgeCfg)
	if err != nil {
		return err
	}

	statusBus := bus.NewBus[blesvc.StatusKind, blesvc.StatusEvent](a.log.Named("bus"))
	if err := statusBus.Start(ctx); err != nil {
		return err
	}
	go a.watchStatus(ctx, statusBus)

	framer := sdep.NewFramer(a.log.Named("sdep"), hw.SPI, hw.CS, hw.IRQ, sdep.WallClock{})
	transport := blesvc.New(a.log.Named("ble"), framer, hw.Reset, bridgeCfg.transportConfig(),
		blesvc.WithStatusBus(statusBus))

	var matrix ps2.Matrix
	builder := hidreport.New(a.log.Named("report"), &matrix, transport)
	decoder := ps2.NewDecoder(a.log.Named("ps2"), hw.Source, &matrix,
		ps2.WithClearHook(builder.Clear),
		ps2.WithSelfTestHook(func() {
			transport.SetModeLEDs(bridgeCfg.ModeLEDs)
		}))

	b := bridge.New(a.log.Named("bridge"), &matrix, decoder, builder, transport)
	return b.Run(ctx)
}

func (a *Agent) hardware(cfg BridgeConfig) (Hardware, error) {
	if a.hw != nil {
		return *a.hw, nil
	}
	if !a.config.Simulate {
		return Hardware{}, fmt.Errorf("no hardware backend configured (use --simulate to run against the coprocessor model)")
	}
	sim := blesim.New(a.log.Named("blesim"))
	hw := Hardware{
		SPI:   sim.SPI(),
		CS:    sim.CSPin(),
		IRQ:   sim.IRQPin(),
		Reset: sim.ResetPin(),
	}
	if cfg.Serial.Port != "" {
		src, err := ps2.OpenSerial(a.log.Named("ps2.serial"), cfg.Serial)
		if err != nil {
			return Hardware{}, err
		}
		hw.Source = src
	} else {
		// no keyboard attached; the bridge idles on an empty source
		hw.Source = ps2.NewScriptSource(nil)
	}
	return hw, nil
}

func (a *Agent) watchStatus(ctx context.Context, statusBus *blesvc.StatusBus) {
	for msg := range statusBus.Subscribe(ctx) {
		switch msg.Key {
		case blesvc.StatusConnection:
			a.log.Info("Connection state changed", zap.Bool("connected", msg.Message.Connected))
		case blesvc.StatusBattery:
			a.log.Debug("Battery sampled", zap.Uint32("mv", msg.Message.VBat))
		}
	}
}
