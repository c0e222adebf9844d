package core

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/nandanugg/tollgate/module/core/domain"
	handler "github.com/nandanugg/tollgate/module/core/internal/handler/http"
	"github.com/nandanugg/tollgate/module/core/internal/handler/subscriber"
	"github.com/nandanugg/tollgate/module/core/internal/repository/database"
	"github.com/nandanugg/tollgate/module/core/internal/repository/database/memory"
	"github.com/nandanugg/tollgate/module/core/internal/repository/database/postgres"
	"github.com/nandanugg/tollgate/module/core/internal/repository/publisher"
	"github.com/nandanugg/tollgate/module/core/internal/repository/publisher/rabbitmq"
	"github.com/nandanugg/tollgate/module/core/service"
)

type Deps struct {
	// DB nil selects the in-memory repositories.
	DB *sql.DB
	// AMQP nil disables status notifications and the telemetry dead letter queue.
	AMQP  *amqp.Connection
	MQTT  mqtt.Client
	Kafka *kafka.Reader

	Gantries     []domain.Gantry
	LoadGantries func() ([]domain.Gantry, error)

	Cooldown time.Duration
	// FixesPerMinute caps accepted fixes per device; zero takes the default, negative disables.
	FixesPerMinute int
	Shards         int
	Settlement     service.SettlementConfig
	Logger         *slog.Logger
}

type Module struct {
	Geofences  *service.GeofenceRegistry
	Detector   *service.CrossingDetector
	Router     *service.FixRouter
	Ledger     *service.LedgerService
	Settlement *service.SettlementEngine
	Tolls      database.TollRepository

	logger         *slog.Logger
	tollHandler    *handler.TollHandler
	vehicleHandler *handler.VehicleHandler
	gantryHandler  *handler.GantryHandler
	mqttSub        *subscriber.LocationSubscriber
	kafkaSub       *subscriber.KafkaSubscriber
}

func Build(ctx context.Context, d Deps) (*Module, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		tolls  database.TollRepository
		ledger database.LedgerRepository
	)
	if d.DB != nil {
		if err := postgres.Migrate(ctx, d.DB); err != nil {
			return nil, err
		}
		tolls = postgres.NewTollRepo(d.DB)
		ledger = postgres.NewLedgerRepo(d.DB)
	} else {
		tolls = memory.NewTollRepo()
		ledger = memory.NewLedgerRepo()
	}

	var (
		statusPub publisher.TollPublisher
		dlqPub    publisher.DeadLetterPublisher
	)
	if d.AMQP != nil {
		p, err := rabbitmq.NewTollPublisher(d.AMQP)
		if err != nil {
			return nil, fmt.Errorf("toll publisher: %w", err)
		}
		statusPub = p
		dl, err := rabbitmq.NewDeadLetterPublisher(d.AMQP)
		if err != nil {
			return nil, fmt.Errorf("dead letter publisher: %w", err)
		}
		dlqPub = dl
	}

	geofences, err := service.NewGeofenceRegistry(d.Gantries)
	if err != nil {
		return nil, fmt.Errorf("geofence index: %w", err)
	}

	ledgerSvc := service.NewLedgerService(ledger, logger.With("component", "ledger"))
	engine := service.NewSettlementEngine(tolls, ledgerSvc, statusPub, d.Settlement, logger.With("component", "settlement"))
	detector := service.NewCrossingDetector(geofences, service.DetectorConfig{
		Cooldown:       d.Cooldown,
		FixesPerMinute: d.FixesPerMinute,
	}, logger.With("component", "detector"))
	router := service.NewFixRouter(detector, engine, d.Shards, 0, logger.With("component", "router"))

	m := &Module{
		Geofences:      geofences,
		Detector:       detector,
		Router:         router,
		Ledger:         ledgerSvc,
		Settlement:     engine,
		Tolls:          tolls,
		logger:         logger,
		tollHandler:    handler.NewTollHandler(tolls, engine),
		vehicleHandler: handler.NewVehicleHandler(ledgerSvc),
	}
	if d.LoadGantries != nil {
		m.gantryHandler = handler.NewGantryHandler(geofences, d.LoadGantries)
	}
	if d.MQTT != nil {
		m.mqttSub = subscriber.NewLocationSubscriber(d.MQTT, router, dlqPub, logger.With("component", "mqtt"))
	}
	if d.Kafka != nil {
		m.kafkaSub = subscriber.NewKafkaSubscriber(d.Kafka, router, dlqPub, logger.With("component", "kafka"))
	}
	return m, nil
}

func (m *Module) RegisterRoutes(r *gin.RouterGroup) {
	m.tollHandler.Register(r)
	m.vehicleHandler.Register(r)
	if m.gantryHandler != nil {
		m.gantryHandler.Register(r)
	}
}

// Run runs the pipeline until ctx is done. Tolls left unfinished by a previous
// process are listed first and queued alongside live traffic.
// The settlement engine stops only after the router has flushed its crossings.
func (m *Module) Run(ctx context.Context) error {
	pending, err := m.Settlement.Pending(ctx)
	if err != nil {
		return fmt.Errorf("recover tolls: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	engineCtx, stopEngine := context.WithCancel(context.WithoutCancel(ctx))
	defer stopEngine()

	g.Go(func() error {
		return m.Settlement.Run(engineCtx)
	})
	g.Go(func() error {
		defer stopEngine()
		return m.Router.Run(gctx)
	})
	g.Go(func() error {
		if err := m.Settlement.Resume(gctx, pending); err != nil && gctx.Err() == nil {
			return fmt.Errorf("recover tolls: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		m.Detector.RunSweeper(gctx, 0)
		return nil
	})

	if m.mqttSub != nil {
		if err := m.mqttSub.Start(gctx); err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("start mqtt subscriber: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			m.mqttSub.Stop()
			return nil
		})
	}
	if m.kafkaSub != nil {
		g.Go(func() error {
			return m.kafkaSub.Run(gctx)
		})
	}

	m.logger.Info("toll pipeline running")
	return g.Wait()
}
