package main

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"AgentCanvas/internal/api"
	"AgentCanvas/internal/catalog"
	"AgentCanvas/internal/config"
	"AgentCanvas/internal/editor"
	"AgentCanvas/internal/feed"
	"AgentCanvas/internal/notify"
	"AgentCanvas/internal/observability/metrics"
	"AgentCanvas/internal/reconcile"
	"AgentCanvas/internal/run"
	"AgentCanvas/pkg/logger"
)

// main 是画布服务守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runDaemon(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
		log.Fatalf("canvasd 运行失败: %v", err)
	}
}

func runDaemon(ctx context.Context) error {
	configPath := os.Getenv("CANVAS_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "canvas.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()

	m := metrics.New()

	cat, err := createCatalog(cfg.Catalog)
	if err != nil {
		return err
	}

	recorder := notify.NewRecorder(cfg.Editor.NotificationLimit)
	notifier := notify.NewFanout(notify.LogNotifier{}, recorder)

	ed := editor.New(
		editor.WithCatalog(cat),
		editor.WithNotifier(notifier),
		editor.WithMetrics(m),
		editor.WithHydrationTimeout(cfg.Catalog.Timeout()),
		editor.WithLayout(editorLayout(cfg.Editor)),
	)
	defer ed.Close()

	stores, closeStores, err := createStoreFactory(ctx, cfg.OutputStore)
	if err != nil {
		return err
	}
	defer closeStores()

	archive, err := createArchive(ctx, cfg.Archive)
	if err != nil {
		return err
	}

	runs := run.NewService(
		run.WithArchive(archive),
		run.WithStoreFactory(stores),
		run.WithNormalizer(reconcile.NewNormalizer(cfg.Reconciler.Sentinels, cfg.Reconciler.Chainable)),
		run.WithMetrics(m),
	)
	defer runs.Close()

	queue, err := createQueue(ctx, cfg.Feed)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.L().Warn("关闭事件队列失败", slog.Any("error", err))
		}
	}()

	processor := feed.NewProcessor(runs, queue,
		feed.WithWorkerCount(cfg.Feed.Workers),
		feed.WithProcessorMetrics(m),
	)
	go func() {
		if err := processor.Start(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
			logger.L().Error("事件处理器退出", slog.Any("error", err))
		}
	}()

	go ed.RunAutoFit(ctx, cfg.Editor.AutoFitInterval())

	server := api.NewServer(cfg.Server.Address, ed, runs,
		api.WithRecorder(recorder),
		api.WithMetrics(m),
		api.WithProducer(queue),
	)
	logger.L().Info("canvasd 已启动",
		slog.String("addr", cfg.Server.Address),
		slog.String("catalog", cfg.Catalog.Driver),
		slog.String("output_store", cfg.OutputStore.Driver),
		slog.String("archive", cfg.Archive.Driver),
		slog.String("feed", cfg.Feed.Driver),
	)
	return server.Start(ctx)
}

func editorLayout(cfg config.EditorConfig) editor.Layout {
	return editor.Layout{
		ContainerPadding: cfg.ContainerPadding,
		GridColumns:      cfg.GridColumns,
		NodeWidth:        cfg.NodeWidth,
		ColumnGap:        cfg.ColumnGap,
		RowHeight:        cfg.RowHeight,
		RowGap:           cfg.RowGap,
		GridPadding:      cfg.GridPadding,
	}
}

func createCatalog(cfg config.CatalogConfig) (catalog.Catalog, error) {
	switch cfg.Driver {
	case "", "http":
		return catalog.NewClient(cfg.BaseURL, &http.Client{Timeout: cfg.Timeout()})
	case "static":
		return catalog.LoadStaticCatalog(cfg.StaticPath)
	default:
		return nil, fmt.Errorf("未知的目录驱动: %s", cfg.Driver)
	}
}

func createStoreFactory(ctx context.Context, cfg config.OutputStoreConfig) (run.StoreFactory, func(), error) {
	switch cfg.Driver {
	case "", "memory":
		return run.MemoryStoreFactory, func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("连接 Redis 失败: %w", err)
		}
		ttl := time.Duration(cfg.TTLSeconds) * time.Second
		factory := func(runID string) (reconcile.OutputStore, error) {
			return reconcile.NewRedisOutputStore(client, cfg.Prefix, runID, ttl)
		}
		return factory, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("未知的输出存储驱动: %s", cfg.Driver)
	}
}

func createArchive(ctx context.Context, cfg config.ArchiveConfig) (run.Archive, error) {
	switch cfg.Driver {
	case "", "memory":
		return run.NewMemoryArchive(), nil
	case "mysql":
		return run.NewMySQLArchive(ctx, run.MySQLConfig{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的归档驱动: %s", cfg.Driver)
	}
}

func createQueue(ctx context.Context, cfg config.FeedConfig) (feed.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return feed.NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		return feed.NewRedisQueue(ctx, feed.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return feed.NewRabbitMQQueue(feed.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}
