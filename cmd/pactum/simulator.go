package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/pactum/internal/common"
	"github.com/ternarybob/pactum/internal/services/bridge/bridgetest"
)

func runSimulator(args []string) error {
	fs := flag.NewFlagSet("lob-sim", flag.ExitOnError)
	addr := fs.String("addr", ":8081", "Listen address")
	token := fs.String("token", "", "Require this bearer token")
	heartbeat := fs.Duration("heartbeat", 30*time.Second, "Heartbeat interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := common.GetLogger()
	sim := bridgetest.NewServer(bridgetest.Options{HeartbeatInterval: *heartbeat, Token: *token}, logger)
	defer sim.Close()

	srv := &http.Server{Addr: *addr, Handler: sim}
	common.SafeGo(logger, "lob-sim.listen", func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Simulator failed")
		}
	})

	logger.Info().
		Str("addr", *addr).
		Dur("heartbeat", *heartbeat).
		Bool("auth", *token != "").
		Msg("Line-of-business simulator ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down simulator")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
