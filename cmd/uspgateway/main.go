package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/edutech/uspgateway/gateway"
	"golang.org/x/exp/slog"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := gateway.LoadConfig(os.Getenv("USPGW_CONFIG_DIR"))
	if err != nil {
		logger.Error("loading config", "err", err)
		os.Exit(1)
	}

	app := gateway.NewApp(logger, cfg)
	if err := app.Start(); err != nil {
		logger.Error("starting app", "err", err)
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	app.Shutdown()
}
