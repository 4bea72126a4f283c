// cmd/casinod/main.go
//
// casinod is the wagering engine daemon: the four games, the ledger store,
// the payment-proof verifier and the HTTP/WebSocket surface.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aquacommander/CasinoGame/internal/api"
	"github.com/aquacommander/CasinoGame/internal/cache"
	"github.com/aquacommander/CasinoGame/internal/config"
	"github.com/aquacommander/CasinoGame/internal/game"
	"github.com/aquacommander/CasinoGame/internal/store"
	"github.com/aquacommander/CasinoGame/internal/store/memory"
	"github.com/aquacommander/CasinoGame/internal/store/postgres"
	"github.com/aquacommander/CasinoGame/internal/verify"
	"github.com/aquacommander/CasinoGame/internal/ws"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	cfg := config.Load()
	if cfg.Production {
		logrus.SetLevel(logrus.InfoLevel)
	} else {
		logrus.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logrus.WithError(err).Fatal("postgres connect failed")
		}
		defer pg.Close()
		st = pg
		logrus.Info("using postgres store")
	} else {
		st = memory.New()
		logrus.Warn("DATABASE_URL not set; using in-memory store")
	}

	if cfg.RedisAddr != "" {
		if err := cache.Init(ctx, cfg.RedisAddr, cfg.RedisPassword); err != nil {
			logrus.WithError(err).Warn("redis unavailable; action log and history mirror disabled")
		}
	}

	chain := verify.NewHTTPClient(cfg.ChainEndpoints)
	verifier := verify.NewVerifier(st, chain, verify.Config{
		MaxAttempts:      cfg.VerifyMaxAttempts,
		RetryDelay:       cfg.VerifyRetryDelay,
		AmountTolerance:  cfg.AmountTolerance,
		AllowProvisional: cfg.AllowProvisional,
	})

	recCfg := verify.DefaultReconcilerConfig()
	recCfg.Interval = cfg.ReconcileInterval
	recCfg.MaxAge = cfg.ReconcileMaxAge
	recCfg.HouseAddress = cfg.HouseAddress
	reconciler := verify.NewReconciler(st, verifier, recCfg)
	go reconciler.Run(ctx)

	settler := game.NewSettler(st)
	gen := game.NewGenerator()

	crash := game.NewCrashGame(st, settler, gen, game.DefaultCrashConfig())
	slide := game.NewSlideGame(st, settler, gen, game.DefaultSlideConfig())
	mines := game.NewMineSessions(st, settler, gen)
	draw := game.NewDrawSessions(st, settler, gen)

	crashHub := ws.NewHub("crash")
	slideHub := ws.NewHub("slide")
	crash.Broadcast = crashHub.Broadcast
	slide.Broadcast = slideHub.Broadcast

	slide.Start()
	defer func() {
		crash.Stop()
		slide.Stop()
	}()

	server := api.NewServer(api.Deps{
		Store:        st,
		Verifier:     verifier,
		Signer:       verify.NopSigner{},
		Crash:        crash,
		Slide:        slide,
		Mines:        mines,
		Draw:         draw,
		CrashHub:     crashHub,
		SlideHub:     slideHub,
		JWTSecret:    cfg.JWTSecret,
		HouseAddress: cfg.HouseAddress,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		reconciler.Stop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("http shutdown")
		}
	}()

	logrus.WithField("addr", cfg.ListenAddr).Info("casinod listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.WithError(err).Fatal("http server failed")
	}
	logrus.Info("casinod stopped")
}
