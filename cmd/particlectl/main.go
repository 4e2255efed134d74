package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/particlectl/internal/config"
	"codeberg.org/mutker/particlectl/internal/logger"
	"codeberg.org/mutker/particlectl/internal/pid"
	"codeberg.org/mutker/particlectl/internal/reading"
	"codeberg.org/mutker/particlectl/internal/sds011"
	"codeberg.org/mutker/particlectl/internal/sensor"
	"codeberg.org/mutker/particlectl/internal/snapshot"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	device := sds011.New(cfg.Port, time.Duration(cfg.Timeout)*time.Second)
	cache := reading.NewCache()

	exporter, err := snapshot.NewWriter(snapshot.Config{Path: cfg.JSONOutput})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize snapshot writer")
	}

	controller := sensor.New(sensor.Config{
		ReadPeriod:      time.Duration(cfg.ReadPeriod) * time.Second,
		SleepPeriod:     time.Duration(cfg.SleepPeriod) * time.Second,
		SampleInterval:  time.Duration(cfg.SampleInterval) * time.Second,
		WakeRetry:       time.Duration(cfg.WakeRetry) * time.Second,
		DegradedRetry:   time.Duration(cfg.DegradedRetry) * time.Second,
		MaxWakeFailures: cfg.MaxWakeFailures,
		LogRaw:          cfg.LogRaw,
	}, device, cache, exporter, nil)

	if err := controller.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start sensor loop")
	}
	logger.Info().
		Str("port", cfg.Port).
		Int("read_period", cfg.ReadPeriod).
		Int("sleep_period", cfg.SleepPeriod).
		Msg("Started sensor loop")

	waitForSignal()

	controller.Stop()
	logger.Info().Msg("Exiting...")
}

func waitForSignal() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
}
