package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perch-social/perch/modules/social/infrastructure/persistence"
	"github.com/perch-social/perch/modules/social/presentation/controllers"
	"github.com/perch-social/perch/modules/social/services"
	"github.com/perch-social/perch/pkg/configuration"
	"github.com/perch-social/perch/pkg/eventbus"
	"github.com/perch-social/perch/pkg/middleware"
	"github.com/perch-social/perch/pkg/queue"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	pool, err := pgxpool.New(ctx, conf.Database.ConnectionString())
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	bus := eventbus.NewEventPublisher(logger)
	importRepo := persistence.NewImportRepository()
	graph := persistence.NewRelationshipRepository()

	importService := services.NewImportService(
		importRepo,
		queue.NewPublisher(),
		bus,
		services.ImportServiceConfig{MaxRows: conf.Import.MaxRows},
	)
	processor := services.NewImportProcessor(
		pool,
		importRepo,
		graph,
		bus,
		logger.WithField("component", "import-processor"),
	)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.Queue.RelayEnabled {
		relay, err := queue.NewRelay(pool, services.QueueTable, processor, queue.RelayOptions{
			PollInterval:    conf.Queue.RelayPollInterval,
			BatchSize:       conf.Queue.RelayBatchSize,
			LockTTL:         conf.Queue.RelayLockTTL,
			MaxAttempts:     conf.Queue.RelayMaxAttempts,
			SingleActive:    conf.Queue.RelaySingleActive,
			DispatchTimeout: conf.Queue.RelayDispatchTimeout,
			Logger:          logger.WithField("component", "import-relay"),
		})
		if err != nil {
			panic(err)
		}
		go func() {
			if err := relay.Run(runCtx); err != nil && runCtx.Err() == nil {
				logger.WithError(err).Error("import relay stopped")
			}
		}()
	}

	router := mux.NewRouter()
	router.Use(
		middleware.WithLogger(logger),
		middleware.WithPool(pool),
	)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	controllers.NewImportsController(importService, conf.Import.MaxUploadSize).Register(router)

	srv := &http.Server{
		Addr:         conf.SocketAddress,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		<-runCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("listening on %s", conf.SocketAddress)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		panic(err)
	}
}
