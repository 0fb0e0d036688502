// Command pind runs the pinwire daemon: it owns the board's GPIO header and
// serves it to sessions, the HTTP API and (optionally) an MQTT broker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pinwire/pinwire/bridge"
	"github.com/pinwire/pinwire/control"
	"github.com/pinwire/pinwire/device"
	"github.com/pinwire/pinwire/hal"
	"github.com/pinwire/pinwire/server"
	"github.com/pinwire/pinwire/settings"
	"github.com/pinwire/pinwire/store"
)

func main() {
	configPath := flag.String("config", "", "settings YAML path (defaults apply when empty)")
	flag.Parse()

	cfg := settings.Default()
	if *configPath != "" {
		loaded, err := settings.Load(*configPath)
		if err != nil {
			logrus.Fatalf("load settings: %s", err)
		}
		cfg = loaded
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatalf("parse log level: %s", err)
	}
	logger.SetLevel(level)

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("fatal: %s", err)
	}
}

func run(cfg settings.Settings, logger *logrus.Logger) error {
	backend, err := openBackend(cfg.Backend)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}

	st, err := store.OpenBBolt(cfg.Store.Path, 0o600, nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	deviceConfig, err := st.DeviceConfig()
	if errors.Is(err, store.ErrNotFound) {
		logger.Info("no stored device config, starting with all pins as inputs")
		deviceConfig = device.DefaultConfig()
	} else if err != nil {
		return fmt.Errorf("load device config: %w", err)
	}

	controller, err := control.New(backend, deviceConfig, logger)
	if err != nil {
		return fmt.Errorf("start controller: %w", err)
	}
	defer controller.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.MQTT.Broker != "" {
		publisher, err := bridge.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			return fmt.Errorf("connect to broker: %w", err)
		}
		defer publisher.Close()

		b := &bridge.Bridge{
			Controller:  controller,
			Publisher:   publisher,
			Logger:      logger,
			Board:       cfg.Board,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}
		go func() {
			if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Warn("mqtt bridge stopped")
			}
		}()
	}

	srv := &server.Server{
		Addr:       cfg.Listen.Wire,
		HTTPAddr:   cfg.Listen.HTTP,
		Board:      cfg.Board,
		Controller: controller,
		Store:      st,
		Logger:     logger,
	}

	logger.WithField("board", cfg.Board).Info("pind starting")
	return srv.Run(ctx)
}

func openBackend(cfg settings.Backend) (hal.Backend, error) {
	switch cfg.Kind {
	case settings.BackendSim:
		return hal.NewSim(), nil

	case settings.BackendCdev:
		backend, err := hal.NewCDev(cfg.Chip)
		if err != nil {
			return nil, err
		}
		return backend, nil

	case settings.BackendPeriph:
		backend, err := hal.NewPeriph(time.Duration(cfg.PollInterval))
		if err != nil {
			return nil, err
		}
		return backend, nil
	}

	return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
}
