package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"otp-service/internal/audit"
	"otp-service/internal/bucketing"
	"otp-service/internal/client"
	"otp-service/internal/config"
	"otp-service/internal/dispatch"
	"otp-service/internal/encryption"
	"otp-service/internal/handler"
	"otp-service/internal/model"
	"otp-service/internal/ratelimit"
	redisrepo "otp-service/internal/repository/redis"
	"otp-service/internal/repository/scylla"
	"otp-service/internal/service"
	"otp-service/internal/util"
	"otp-service/internal/worker"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.Manager

	// Wiring
	otpRepository model.OTPRepository
	limiter       *ratelimit.Limiter
	recorder      *audit.Recorder
	dispatcher    handler.CodeDispatcher
	otpService    *service.OTPService
	sweeper       *worker.Sweeper

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka
	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	// Elasticsearch
	if f.config.Elasticsearch.Enabled {
		if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = esClient
			if err := f.esClient.HealthCheck(); err != nil {
				initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
			} else {
				util.Info("Elasticsearch client initialized and healthy")
			}
		}
	}

	// ClickHouse
	if f.config.Clickhouse.Enabled {
		if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = chClient
			if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
			} else {
				util.Info("ClickHouse client initialized and healthy")
			}
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

// initializeManagers initializes the encryption and bucketing managers
func (f *Factory) initializeManagers() {
	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			util.Warn("Failed to load AWS config, falling back to local encryption", util.ErrorField(err))
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
		}
	}

	f.encryptionManager = encryption.NewManager(f.config, kmsClient)
	f.bucketingManager = bucketing.NewManager(f.config)
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) OTPRepository() model.OTPRepository {
	if f.otpRepository == nil {
		f.otpRepository = scylla.NewOTPRepository(f.scyllaClient, util.Get())
	}
	return f.otpRepository
}

func (f *Factory) Limiter() *ratelimit.Limiter {
	if f.limiter == nil {
		cache := redisrepo.NewRateLimitCache(f.redisClient)
		f.limiter = ratelimit.NewLimiter(cache, f.bucketingManager, f.config.RateLimit)
	}
	return f.limiter
}

// Recorder assembles the audit trail from every sink that came up.
func (f *Factory) Recorder() *audit.Recorder {
	if f.recorder == nil {
		var sinks []model.EventSink
		if f.kafkaProducer != nil {
			sinks = append(sinks, audit.NewKafkaSink(f.kafkaProducer, f.config.Kafka.EventsTopic))
		}
		if f.clickhouseClient != nil {
			sinks = append(sinks, f.clickhouseClient)
		}
		if f.esClient != nil {
			sinks = append(sinks, f.esClient)
		}
		f.recorder = audit.NewRecorder(f.encryptionManager, f.bucketingManager, sinks...)
	}
	return f.recorder
}

func (f *Factory) Dispatcher() handler.CodeDispatcher {
	if f.dispatcher == nil {
		if f.kafkaProducer != nil {
			f.dispatcher = dispatch.NewDispatcher(f.kafkaProducer, f.config.Kafka.DispatchTopic)
		} else {
			f.dispatcher = dispatch.NewNopDispatcher(util.Get())
		}
	}
	return f.dispatcher
}

func (f *Factory) OTPService() *service.OTPService {
	if f.otpService == nil {
		f.otpService = service.NewOTPService(
			f.OTPRepository(),
			f.Limiter(),
			f.Recorder(),
			f.config.OTP,
			util.Get(),
		)
	}
	return f.otpService
}

func (f *Factory) Sweeper() *worker.Sweeper {
	if f.sweeper == nil {
		f.sweeper = worker.NewSweeper(f.OTPRepository(), f.config.Sweeper.Interval, util.Get())
	}
	return f.sweeper
}

// HealthCheck reports per-store status for the readiness endpoint.
func (f *Factory) HealthCheck() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	statuses := make(map[string]string)

	if f.redisClient != nil {
		statuses["redis"] = statusOf(f.redisClient.HealthCheck(ctx))
	} else {
		statuses["redis"] = "not initialized"
	}

	if f.scyllaClient != nil {
		statuses["scylla"] = statusOf(f.scyllaClient.HealthCheck())
	} else {
		statuses["scylla"] = "not initialized"
	}

	if f.kafkaProducer != nil {
		statuses["kafka"] = statusOf(f.kafkaProducer.HealthCheck(ctx))
	}
	if f.esClient != nil {
		statuses["elasticsearch"] = statusOf(f.esClient.HealthCheck())
	}
	if f.clickhouseClient != nil {
		statuses["clickhouse"] = statusOf(f.clickhouseClient.HealthCheck(ctx))
	}

	return statuses
}

func statusOf(err error) string {
	if err != nil {
		return err.Error()
	}
	return "healthy"
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

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

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Sync()
	})
	return nil
}
