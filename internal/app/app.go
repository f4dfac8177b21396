// Package app wires the plant's process: AMQP topology, the wide-column
// session, the interface-descriptor cache, the trigger dispatcher and one
// consumer worker per sharded input queue, plus the ambient gRPC health
// server and Prometheus metrics endpoint. Shape mirrors orders/app.go:
// a Config struct, NewApp, Start, Shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gocql/gocql"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/amqputil"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/consumer"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/discovery"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/logging"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/queries"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/telemetry"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/tracker"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/triggers"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/updater"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/vmq"
)

// App owns every long-lived resource the plant holds for its process
// lifetime: the broker connection and its worker channels, the wide-column
// session, the Redis cache, the registration with discovery, and the
// ambient gRPC health / HTTP metrics servers.
type App struct {
	registrar    discovery.Registrar
	registration *ServiceRegistration

	healthServer *health.Server
	grpcServer   *grpc.Server

	metricsServer *http.Server

	amqpConn       *amqp.Connection
	publishChannel *amqp.Channel
	vmqChannel     *amqp.Channel
	workers        []*consumer.Worker

	session    queries.Session
	ifaceCache *queries.InterfaceCache

	config  Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewApp dials every backing service the plant depends on and wires the
// per-shard consumer workers, but does not start consuming or serving yet —
// that's Start's job.
func NewApp(cfg Config) (*App, error) {
	logger := logging.New(cfg.ServiceName)

	registrar, err := createRegistrar(cfg.ConsulAddr, logger)
	if err != nil {
		return nil, fmt.Errorf("app: create registrar: %w", err)
	}

	logger.Info("connecting to rabbitmq")
	conn, err := amqputil.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("app: connect to rabbitmq: %w", err)
	}

	topoCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("app: open topology channel: %w", err)
	}
	queueNames, err := amqputil.DeclareSharded(topoCh, amqputil.ShardedTopology{
		InputExchange:  cfg.InputExchange,
		OutputExchange: cfg.OutputExchange,
		QueuePrefix:    cfg.QueuePrefix,
		Workers:        cfg.WorkerCount,
	})
	topoCh.Close()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("app: declare topology: %w", err)
	}

	publishChannel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("app: open publish channel: %w", err)
	}

	vmqChannel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("app: open vmq channel: %w", err)
	}
	if err := vmqChannel.ExchangeDeclare(cfg.VMQExchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("app: declare vmq exchange: %w", err)
	}
	vmqPlugin := vmq.New(vmqChannel, cfg.VMQExchange)

	logger.Info("connecting to scylla/cassandra", slog.Any("hosts", cfg.ScyllaHosts))
	session, err := queries.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace, gocql.Quorum)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("app: connect to wide-column store: %w", err)
	}
	store := queries.NewStore(session)

	logger.Info("connecting to redis", slog.String("addr", cfg.RedisAddr))
	ifaceCache, err := queries.NewInterfaceCache(cfg.RedisAddr, updater.InterfaceLifespan)
	if err != nil {
		session.Close()
		conn.Close()
		return nil, fmt.Errorf("app: connect to interface cache: %w", err)
	}

	metrics := telemetry.NewMetrics()
	handler := triggers.New(amqputil.Publisher{Channel: publishChannel}, cfg.OutputExchange)

	workers := make([]*consumer.Worker, 0, len(queueNames))
	for _, queueName := range queueNames {
		ch, err := amqputil.OpenWorkerChannel(conn, cfg.PrefetchCount)
		if err != nil {
			session.Close()
			conn.Close()
			return nil, fmt.Errorf("app: open worker channel for %s: %w", queueName, err)
		}

		acknowledgerFor := func(consumer.Message) tracker.Acknowledger {
			return amqputil.ChannelAcknowledger{Channel: ch}
		}
		svc := updater.NewService(store, ifaceCache, handler, vmqPlugin, metrics, logger, cfg.RealmTTLSeconds, acknowledgerFor)

		workers = append(workers, &consumer.Worker{
			Channel:    ch,
			Queue:      queueName,
			Dispatcher: svc,
			Metrics:    metrics,
			Logger:     logger,
		})
	}

	healthServer := health.NewServer()
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	return &App{
		registrar:      registrar,
		healthServer:   healthServer,
		grpcServer:     grpcServer,
		amqpConn:       conn,
		publishChannel: publishChannel,
		vmqChannel:     vmqChannel,
		workers:        workers,
		session:        session,
		ifaceCache:     ifaceCache,
		config:         cfg,
		logger:         logger,
		metrics:        metrics,
	}, nil
}

// Start registers the instance with discovery, launches every consumer
// worker and the metrics HTTP server in their own goroutines, then blocks
// serving the health gRPC server until ctx is done or Shutdown stops it.
func (a *App) Start(ctx context.Context) error {
	registration, err := RegisterService(ctx, a.registrar, a.config.InstanceID, a.config.ServiceName, a.config.GRPCAddr, a.logger)
	if err != nil {
		return fmt.Errorf("app: register service: %w", err)
	}
	a.registration = registration

	a.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	a.metricsServer = &http.Server{Addr: a.config.MetricsAddr, Handler: metricsMux}
	go func() {
		a.logger.Info("starting metrics server", slog.String("addr", a.config.MetricsAddr))
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", slog.Any("error", err))
		}
	}()

	for _, w := range a.workers {
		w := w
		go func() {
			a.logger.Info("starting consumer worker", slog.String("queue", w.Queue))
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("consumer worker stopped", slog.String("queue", w.Queue), slog.Any("error", err))
			}
		}()
	}

	lis, err := net.Listen("tcp", a.config.GRPCAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.config.GRPCAddr, err)
	}

	a.logger.Info("starting grpc health server", slog.String("addr", a.config.GRPCAddr))
	return a.grpcServer.Serve(lis)
}

// Shutdown drains the plant in dependency order: stop accepting new
// deliveries, give in-flight device actors a window to finish ack'ing,
// then tear down the wide-column session, the broker connection and
// finally the service registration.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down gracefully")

	a.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	a.grpcServer.GracefulStop()

	for _, w := range a.workers {
		if err := w.Channel.Close(); err != nil {
			a.logger.Warn("error closing worker channel", slog.String("queue", w.Queue), slog.Any("error", err))
		}
	}
	time.Sleep(2 * time.Second)

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Error("error shutting down metrics server", slog.Any("error", err))
		}
	}

	if a.session != nil {
		a.session.Close()
	}
	if a.ifaceCache != nil {
		if err := a.ifaceCache.Close(); err != nil {
			a.logger.Error("error closing interface cache", slog.Any("error", err))
		}
	}
	if a.publishChannel != nil {
		_ = a.publishChannel.Close()
	}
	if a.vmqChannel != nil {
		_ = a.vmqChannel.Close()
	}
	if a.amqpConn != nil {
		if err := a.amqpConn.Close(); err != nil {
			a.logger.Error("error closing rabbitmq connection", slog.Any("error", err))
		}
	}

	if a.registration != nil {
		return a.registration.Deregister(ctx)
	}
	return nil
}

func createRegistrar(addr string, logger *slog.Logger) (discovery.Registrar, error) {
	if addr == "" {
		logger.Info("consul address not provided, using in-memory service registry")
		return discovery.NewInMemRegistrar(), nil
	}
	return discovery.NewConsulRegistrar(addr)
}
