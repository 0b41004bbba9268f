package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/regardsoss/dataprovider/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := a.RecoverRunningChains(ctx); err != nil {
		a.Log.Warn("chain lock recovery failed", "error", err)
	}
	cancel()

	if err := a.Start(); err != nil {
		a.Log.Error("start failed", "error", err)
		return
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	if a.Server == nil {
		<-sig
		a.Log.Info("Shutting down")
		return
	}
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run() }()
	select {
	case err := <-errCh:
		if err != nil {
			a.Log.Error("server failed", "error", err)
		}
	case <-sig:
		a.Log.Info("Shutting down")
	}
}
