package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vantagecrm/wabridge/internal/config"
	"github.com/vantagecrm/wabridge/relay"
	"github.com/vantagecrm/wabridge/server"
	"github.com/vantagecrm/wabridge/sessions"
	"github.com/vantagecrm/wabridge/wire/wameow"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatal().Err(err).Msg("error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	setupLogging(c)
	displayAppname(c.GetAppName())

	backend := relay.New(c.GetBackendURL(), c.GetAPIKey(), c.GetWebhookTimeout())
	manager := sessions.NewManager(
		sessions.NewRegistry(),
		sessions.NewCredentialStore(c.GetDataFolder()),
		&wameow.Dialer{ConnectTimeout: c.GetConnectTimeout()},
		policyFromConfig(c),
		backend,
		backend,
	)
	if err := manager.Resume(); err != nil {
		log.Error().Err(err).Msg("session resume failed")
	}

	httpServer := &http.Server{Addr: c.GetPort(), Handler: server.New(c, manager)}
	go listenAndServe(httpServer)
	waitForStopSignal()
	returnError = shutdown(httpServer, manager)
	return returnError
}

func policyFromConfig(c config.Config) sessions.Policy {
	return sessions.Policy{
		BaseDelay:    c.GetReconnectBaseDelay(),
		Multiplier:   c.GetReconnectMultiplier(),
		MaxDelay:     c.GetReconnectMaxDelay(),
		MaxAttempts:  c.GetReconnectMaxAttempts(),
		RestartDelay: c.GetRestartDelay(),
	}
}

func setupLogging(c config.Config) {
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server, manager *sessions.Manager) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	manager.Drain(ctx)
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
