package main

import (
	"context"
	"fmt"
	"os"

	"github.com/52poke/sitecache/internal/cache"
	"github.com/52poke/sitecache/internal/config"
	"github.com/52poke/sitecache/internal/lock"
	"github.com/52poke/sitecache/internal/origin"
	"github.com/52poke/sitecache/internal/worker"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

type app struct {
	cfg      config.Config
	logger   *log.Logger
	storage  cache.Storage
	locker   lock.Locker
	origin   *origin.Client
	registry *worker.Registry
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "sitecache",
	})
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(level)

	originClient, err := origin.NewClient(cfg.OriginBaseURL, cfg.OriginTimeout())
	if err != nil {
		return nil, fmt.Errorf("origin: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = lock.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}

	storage, err := newStorage(ctx, cfg, redisClient)
	if err != nil {
		return nil, err
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if redisClient != nil {
		locker = lock.RedisLocker{Client: redisClient, Prefix: cfg.RedisNamespace + ":"}
	}

	registry := &worker.Registry{
		Storage: storage,
		Origin:  originClient,
		Locker:  locker,
		Prefix:  cfg.CachePrefix,
		LockTTL: cfg.LockTTL(),
		Logger:  logger,
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		storage:  storage,
		locker:   locker,
		origin:   originClient,
		registry: registry,
	}, nil
}

func newStorage(ctx context.Context, cfg config.Config, redisClient *redis.Client) (cache.Storage, error) {
	switch cfg.Store {
	case config.StoreS3:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
		)
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		})
		return cache.NewS3Storage(cfg.S3Bucket, cfg.S3Prefix, client), nil
	case config.StoreRedis:
		return cache.NewRedisStorage(redisClient, cfg.RedisNamespace), nil
	default:
		return cache.NewMemoryStorage(), nil
	}
}
