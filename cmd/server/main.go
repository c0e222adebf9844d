package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/nandanugg/tollgate/config"
	"github.com/nandanugg/tollgate/module/core"
	"github.com/nandanugg/tollgate/module/core/domain"
	"github.com/nandanugg/tollgate/module/core/service"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := core.Deps{
		Cooldown:       cfg.CrossingCooldown,
		FixesPerMinute: cfg.FixesPerMinute,
		Shards:         cfg.DetectorShards,
		Settlement: service.SettlementConfig{
			Workers:       cfg.SettlementWorkers,
			QueueSize:     cfg.SettlementQueue,
			LedgerTimeout: cfg.LedgerTimeout,
			RetryBase:     cfg.RetryBase,
			RetryCap:      cfg.RetryCap,
			MaxRetries:    cfg.RetryMax,
			DrainTimeout:  cfg.DrainTimeout,
		},
		Logger: logger,
		LoadGantries: func() ([]domain.Gantry, error) {
			return config.LoadGantries(cfg.GantryFile)
		},
	}

	gantries, err := config.LoadGantries(cfg.GantryFile)
	if err != nil {
		log.Fatalf("gantries: %v", err)
	}
	deps.Gantries = gantries

	if cfg.Storage == "postgres" {
		db, err := config.NewPostgres(cfg)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer func() { _ = db.Close() }()
		deps.DB = db
	}

	amqpConn, err := config.NewRabbitMQ(cfg)
	if err != nil {
		log.Fatalf("rabbitmq: %v", err)
	}
	defer func() { _ = amqpConn.Close() }()
	deps.AMQP = amqpConn

	var mqttClient mqtt.Client
	switch cfg.TelemetrySource {
	case "kafka":
		reader := config.NewKafkaReader(cfg)
		defer func() { _ = reader.Close() }()
		deps.Kafka = reader
	default:
		mqttClient, err = config.NewMQTT(cfg)
		if err != nil {
			log.Fatalf("mqtt: %v", err)
		}
		defer mqttClient.Disconnect(250)
		deps.MQTT = mqttClient
	}

	coreModule, err := core.Build(ctx, deps)
	if err != nil {
		log.Fatalf("core module: %v", err)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	health := config.NewHealthChecker(deps.DB, amqpConn, mqttClient)
	health.Register(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	coreModule.RegisterRoutes(&r.RouterGroup)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coreModule.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server: %v", err)
	}
	logger.Info("shut down")
}
