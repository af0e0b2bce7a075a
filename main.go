package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carina-health/upsrs/auth"
	"github.com/carina-health/upsrs/config"
	"github.com/carina-health/upsrs/events"
	"github.com/carina-health/upsrs/logging"
	"github.com/carina-health/upsrs/middleware"
	"github.com/carina-health/upsrs/notify"
	"github.com/carina-health/upsrs/router"
	"github.com/carina-health/upsrs/service"
	"github.com/carina-health/upsrs/store/memory"
)

var version = "dev"

func main() {
	mintToken := flag.String("mint-token", "", "print a bearer token for the given AE title and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	data := cfg.Get()

	logging.Init(logging.Config{Level: data.LogLevel, JSONOutput: data.LogJSON})
	log := logging.WithComponent("main")

	if *mintToken != "" {
		if data.AuthSecret == "" {
			fmt.Fprintln(os.Stderr, "UPSRS_AUTH_SECRET is required to mint tokens")
			os.Exit(1)
		}
		token, err := auth.IssueToken([]byte(data.AuthSecret), *mintToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mint token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	if data.AuthEnabled && data.AuthSecret == "" {
		log.Fatal().Msg("UPSRS_AUTH_SECRET is required when auth is enabled")
	}

	log.Info().Str("version", version).Msg("upsrs starting")

	// Build the dependency graph explicitly: stores, the channel registry,
	// the notification service, then the domain services on top.
	items := memory.NewWorkItemStore()
	subs := memory.NewSubscriptionStore()

	conns := notify.NewConnectionManager(logging.WithComponent("channels"))
	notifier := notify.NewNotificationService(conns, subs, data.PendingQueueCap, logging.WithComponent("notify"))

	workItems := service.NewWorkItemService(items, notifier, logging.WithComponent("workitems"))
	subscriptions := service.NewSubscriptionService(subs, items, conns, notifier, logging.WithComponent("subscriptions"))

	handler := router.New(router.Deps{
		WorkItems:     workItems,
		Subscriptions: subscriptions,
		Conns:         conns,
		Items:         items,
		Config:        cfg,
		Log:           logging.WithComponent("router"),
	})

	chain := middleware.RequestLogger(logging.WithComponent("http"))(
		middleware.RequireAuth([]byte(data.AuthSecret), data.AuthEnabled)(handler))

	srv := &http.Server{
		Addr:        data.ListenAddr,
		Handler:     chain,
		ReadTimeout: config.Duration(data.ReadTimeout, 15*time.Second),
		// No write timeout: push channels are long-lived; their liveness is
		// the websocket layer's concern.
		WriteTimeout: 0,
		IdleTimeout:  config.Duration(data.IdleTimeout, 60*time.Second),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", data.ListenAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-sigCh
	log.Info().Msg("shutting down")

	// Tell connected subscribers the SCP is going away; the in-memory
	// subscription list survives only as long as the process, so the next
	// start is a cold start.
	notifier.BroadcastSCPStatus(events.SCPStatusGoingDown, events.ListStatusWarmStart, events.ListStatusWarmStart)

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
