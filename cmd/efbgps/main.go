package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"efbgps/internal/config"
	"efbgps/internal/efb"
	"efbgps/internal/gps"
	"efbgps/internal/sensor"
	"efbgps/internal/sim"
	"efbgps/internal/udp"
	"efbgps/internal/web"
)

const logBufferLines = 2000

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to YAML config (defaults when empty)")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logs := web.NewLogBuffer(logBufferLines)
	logger, err := newLogger(cfg.Log, os.Stderr, logs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info().Str("device", cfg.DeviceName).Msg("efbgps starting")
	if err := run(ctx, cfg, logger, logs); err != nil {
		logger.Fatal().Err(err).Msg("efbgps failed")
	}
	logger.Info().Msg("efbgps stopped")
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		var cfg config.Config
		if err := config.DefaultAndValidate(&cfg); err != nil {
			return config.Config{}, err
		}
		return cfg, nil
	}
	return config.Load(path)
}

// run blocks until ctx is cancelled or the web server fails.
func run(ctx context.Context, cfg config.Config, logger zerolog.Logger, logs *web.LogBuffer) error {
	feed, status := newFeed(cfg.GPS, logger)
	defer feed.Close()

	svc := efb.New(efb.Config{
		DeviceName:    cfg.DeviceName,
		DiscoveryAddr: cfg.Discovery.Listen,
	}, feed, feed, udp.NewUnicaster(), logger)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("efb start: %w", err)
	}
	defer func() {
		if err := svc.Stop(); err != nil {
			logger.Warn().Err(err).Msg("efb stop")
		}
	}()

	if !cfg.Web.Enabled() {
		<-ctx.Done()
		return nil
	}

	h := web.Handler(web.Options{
		DeviceName: cfg.DeviceName,
		Core:       svc,
		GPS:        status,
		Logs:       logs,
	}, logger)
	if err := web.Serve(ctx, cfg.Web.Listen, h, logger); err != nil {
		return fmt.Errorf("web: %w", err)
	}
	return nil
}

type gnssFeed interface {
	sensor.LocationFeed
	sensor.SatelliteFeed
	Close()
}

// newFeed returns the configured receiver. status is nil for the simulator.
func newFeed(cfg config.GPSConfig, logger zerolog.Logger) (gnssFeed, web.GPSStatus) {
	if cfg.Source == "sim" {
		return sim.NewFeed(sim.Ownship{
			CenterLatDeg: cfg.Sim.CenterLatDeg,
			CenterLonDeg: cfg.Sim.CenterLonDeg,
			AltFeet:      cfg.Sim.AltFeet,
			GroundKt:     cfg.Sim.GroundKt,
			RadiusNm:     cfg.Sim.RadiusNm,
		}, time.Second, logger), nil
	}
	svc := gps.New(gps.Config{
		Source:   cfg.Source,
		GPSDAddr: cfg.GPSDAddr,
		Device:   cfg.Device,
		Baud:     cfg.Baud,
	}, logger)
	return svc, svc
}
