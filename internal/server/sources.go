package server

import (
	"context"
	"fmt"
	"log/slog"

	"mandalaquest/internal/config"
	"mandalaquest/internal/session"
	"mandalaquest/internal/signal"
)

// NewSourceFactory picks the signal transport named by SIGNAL_SOURCE. The
// returned func releases shared connections.
func NewSourceFactory(cfg config.Config, logger *slog.Logger) (session.SourceFactory, func(), error) {
	noop := func() {}
	switch cfg.SignalSource {
	case "", "synthetic":
		rate := cfg.SyntheticRate
		return func(context.Context) (signal.Source, error) {
			return signal.NewSynthetic(rate), nil
		}, noop, nil

	case "serial":
		if cfg.SerialPort == "" {
			return nil, noop, fmt.Errorf("SIGNAL_SOURCE=serial needs SERIAL_PORT")
		}
		return func(context.Context) (signal.Source, error) {
			src, err := signal.OpenSerial(cfg.SerialPort, cfg.SerialBaud, logger)
			if err != nil {
				return nil, err
			}
			return src, nil
		}, noop, nil

	case "tcp":
		if cfg.SignalAddr == "" {
			return nil, noop, fmt.Errorf("SIGNAL_SOURCE=tcp needs SIGNAL_ADDR")
		}
		return func(ctx context.Context) (signal.Source, error) {
			src, err := signal.DialTCP(ctx, cfg.SignalAddr, logger)
			if err != nil {
				return nil, err
			}
			return src, nil
		}, noop, nil

	case "nats":
		nc, err := signal.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return nil, noop, fmt.Errorf("connecting to nats %s: %w", cfg.NATSURL, err)
		}
		factory := func(context.Context) (signal.Source, error) {
			src, err := signal.SubscribeNATS(nc, cfg.NATSSubject, logger)
			if err != nil {
				return nil, err
			}
			return src, nil
		}
		cleanup := func() {
			if err := nc.Drain(); err != nil {
				logger.Warn("draining nats", "error", err)
			}
		}
		return factory, cleanup, nil
	}
	return nil, noop, fmt.Errorf("%w: SIGNAL_SOURCE=%q", signal.ErrUnknownInput, cfg.SignalSource)
}
