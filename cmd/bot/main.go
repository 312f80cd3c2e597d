package main

import (
	"context"
	"errors"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ghoulrush.io/internal/client"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "player name")
		start    = flag.Bool("start", false, "send START_REQUEST once connected")
		interval = flag.Duration("think", 150*time.Millisecond, "decision interval")
		seed     = flag.Int64("seed", 0, "decision seed (0 = time based)")
		debug    = flag.Bool("debug", false, "debug logging")
	)
	flag.Parse()

	cfg := zap.NewProductionConfig()
	if *debug {
		cfg = zap.NewDevelopmentConfig()
	}
	base, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	logger := base.Named("bot").With(zap.String("name", *name))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, *url, *name, logger, client.Options{})
	if err != nil {
		logger.Fatal("dial", zap.Error(err))
	}
	defer c.Close()
	w := c.Welcome()
	logger.Info("WELCOME",
		zap.Uint64("conn", w.ConnectionID),
		zap.String("session", w.SessionID),
		zap.Int("tick_rate", w.WorldParams.TickRateHz),
		zap.Bool("in_progress", w.InProgress))

	if *start {
		if err := c.RequestStart(); err != nil {
			logger.Fatal("start request", zap.Error(err))
		}
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	b := &brain{r: rand.New(rand.NewSource(*seed)), cooldown: time.Duration(w.WorldParams.CastCooldownMS) * time.Millisecond}

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	tick := time.NewTicker(*interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-runErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("connection ended", zap.Error(err))
			}
			return
		case now := <-tick.C:
			if !c.Started() {
				continue
			}
			self, ok := c.Entity(c.Self())
			if !ok {
				continue
			}
			d := b.decide(self, c.Entities(), now)
			if err := c.Walk(d.walk); err != nil {
				logger.Warn("walk", zap.Error(err))
				return
			}
			if d.cast {
				if err := c.Look(d.aim); err != nil {
					logger.Warn("look", zap.Error(err))
					return
				}
				ref, err := c.Cast(d.aim)
				if err != nil {
					logger.Warn("cast", zap.Error(err))
					return
				}
				logger.Debug("cast", zap.Uint64("ref", uint64(ref)), zap.Uint64("frame", c.Frame()), zap.Duration("rtt", c.RTT()))
			}
		}
	}
}
