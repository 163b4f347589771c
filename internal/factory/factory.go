// Package factory wires configuration, clients, stores, and the auth
// service into one object whose lifecycle the server owns.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"admin-auth-service/internal/audit"
	"admin-auth-service/internal/auth"
	"admin-auth-service/internal/client"
	"admin-auth-service/internal/config"
	"admin-auth-service/internal/device"
	"admin-auth-service/internal/geo"
	"admin-auth-service/internal/ledger"
	"admin-auth-service/internal/model"
	"admin-auth-service/internal/repository/scylla"
	"admin-auth-service/internal/secrets"
	"admin-auth-service/internal/session"
	"admin-auth-service/internal/tls"
	"admin-auth-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Core
	capabilities model.Capabilities
	sessionStore session.Store
	attempts     ledger.AttemptLedger
	mfaLedger    ledger.MFALedger
	dispatcher   *audit.Dispatcher
	authService  *auth.Service

	// startSweepers is bound to the concrete session store.
	startSweepers func(ctx context.Context)

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewManager(cfg.Server)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := f.initializeClients(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := f.buildCore(ctx); err != nil {
		return nil, fmt.Errorf("failed to build core services: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("redis_backed", cfg.Redis.Enabled),
		util.Bool("mfa_supported", f.capabilities.MFA),
		util.Bool("device_tracking", f.capabilities.Devices),
	)

	return f, nil
}

// initializeClients connects every configured external service. Scylla
// is the system of record and always required; the rest degrade to
// warnings outside production.
func (f *Factory) initializeClients(ctx context.Context) error {
	var initErrors []error

	scyllaClient, err := scylla.NewScyllaClient(f.config)
	if err != nil {
		return fmt.Errorf("scylla: %w", err)
	}
	f.scyllaClient = scyllaClient
	if err := f.scyllaClient.HealthCheck(); err != nil {
		return fmt.Errorf("scylla health check: %w", err)
	}
	util.Info("ScyllaDB client initialized and healthy")

	if f.config.Redis.Enabled {
		redisClient, err := client.NewRedisClient(f.config)
		if err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else {
			f.redisClient = redisClient
			util.Info("Redis client initialized and healthy")
		}
	}

	if f.config.Kafka.Enabled {
		producer, err := client.NewKafkaProducer(f.config)
		if err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	if f.config.ClickHouse.Enabled {
		ch, err := client.NewClickHouseClient(f.config)
		if err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = ch
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if f.config.Elastic.Enabled {
		es, err := client.NewElasticsearchClient(f.config)
		if err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = es
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// buildCore assembles the stores, ledgers, audit pipeline, and the auth
// service on top of the connected clients.
func (f *Factory) buildCore(ctx context.Context) error {
	cfg := f.config

	masterKey, err := secrets.ResolveMasterKey(ctx, cfg)
	if err != nil {
		return fmt.Errorf("resolve master key: %w", err)
	}
	codec, err := secrets.NewCodec(masterKey)
	if err != nil {
		return fmt.Errorf("secret codec: %w", err)
	}

	caps, err := scylla.ProbeCapabilities(ctx, f.scyllaClient, cfg.Scylla.Keyspace)
	if err != nil {
		return fmt.Errorf("probe schema capabilities: %w", err)
	}
	f.capabilities = caps

	adminRepo := scylla.NewAdminRepository(f.scyllaClient, caps)
	banRepo := scylla.NewBanRepository(f.scyllaClient)

	var tracker *device.Tracker
	if caps.Devices {
		tracker = device.NewTracker(scylla.NewDeviceRepository(f.scyllaClient))
	} else {
		tracker = device.NewTracker(nil)
	}

	if cfg.Redis.Enabled && f.redisClient != nil {
		rdb := f.redisClient.Client
		store := session.NewRedisStore(rdb, cfg.Auth.SessionTTL, cfg.Auth.MaxSessionsPerUser)
		f.sessionStore = store
		f.attempts = ledger.NewRedisLedger(rdb, banRepo, cfg.Auth.MaxFailedAttempts, cfg.Auth.LockoutDuration)
		f.mfaLedger = ledger.NewRedisMFALedger(rdb, cfg.Auth.MaxMFAAttempts, cfg.Auth.MFALockoutDuration)
		f.startSweepers = func(ctx context.Context) {
			store.StartSweeper(ctx, cfg.Auth.SweepInterval)
		}
	} else {
		store := session.NewMemoryStore(cfg.Auth.SessionTTL, cfg.Auth.MaxSessionsPerUser)
		f.sessionStore = store
		f.attempts = ledger.NewMemoryLedger(banRepo, cfg.Auth.MaxFailedAttempts, cfg.Auth.LockoutDuration)
		f.mfaLedger = ledger.NewMemoryMFALedger(cfg.Auth.MaxMFAAttempts, cfg.Auth.MFALockoutDuration)
		f.startSweepers = func(ctx context.Context) {
			store.StartSweeper(ctx, cfg.Auth.SweepInterval)
		}
	}

	dispatcher, events := f.buildAuditPipeline()
	f.dispatcher = dispatcher

	f.authService = auth.NewService(
		adminRepo,
		f.sessionStore,
		f.attempts,
		f.mfaLedger,
		tracker,
		codec,
		dispatcher,
		events,
		geo.NewResolver(cfg.Auth.GeoLookupEnabled),
		caps,
		auth.Options{
			BcryptCost: cfg.Auth.BcryptCost,
			MFAIssuer:  cfg.Auth.MFAIssuer,
		},
	)

	if err := auth.EnsureBootstrapAdmin(ctx, adminRepo, cfg.Bootstrap.Username, cfg.Bootstrap.Password, cfg.Auth.BcryptCost); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	return nil
}

// buildAuditPipeline assembles the fan-out sinks and picks the reader
// that serves the security events feed. ClickHouse is the durable
// reader; the in-memory ring covers deployments without it.
func (f *Factory) buildAuditPipeline() (*audit.Dispatcher, audit.Reader) {
	sinks := []audit.Sink{audit.LogSink{}}
	var reader audit.Reader

	if f.clickhouseClient != nil {
		store := audit.NewClickHouseStore(f.clickhouseClient)
		sinks = append(sinks, store)
		reader = store
	}
	if f.kafkaProducer != nil {
		sinks = append(sinks, audit.NewKafkaSink(f.kafkaProducer, f.config.Kafka.Topic))
	}
	if f.esClient != nil {
		sinks = append(sinks, audit.NewElasticSink(f.esClient, f.config.Elastic.Index))
	}
	if reader == nil {
		ring := audit.NewMemoryStore(1000)
		sinks = append(sinks, ring)
		reader = ring
	}

	return audit.NewDispatcher(sinks...), reader
}

// StartBackground launches the periodic jobs tied to the server's
// lifetime.
func (f *Factory) StartBackground(ctx context.Context) {
	f.startSweepers(ctx)
}

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}
	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}
	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.dispatcher != nil {
			f.dispatcher.Flush()
			util.Info("Audit dispatcher drained")
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) AuthService() *auth.Service {
	return f.authService
}

func (f *Factory) SessionStore() session.Store {
	return f.sessionStore
}

func (f *Factory) Dispatcher() *audit.Dispatcher {
	return f.dispatcher
}
