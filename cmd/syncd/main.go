package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"github.com/ptduy/livecount/internal/adapter/storage"
	"github.com/ptduy/livecount/internal/core/domain"
	"github.com/ptduy/livecount/internal/core/service"
	"github.com/ptduy/livecount/pkg/config"
	"github.com/ptduy/livecount/pkg/logger"
)

const archivePumpInterval = time.Minute

// syncd is the long-running node of a livecount deployment: it mirrors the
// shared entity set, archives the audit log into MySQL and garbage-collects
// expired entities. Operator clients embed the service packages directly.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		ServiceName: "syncd",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Console:     cfg.App.LogConsole,
	})

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		log.Error(ctx, "failed to open mysql", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		log.Error(ctx, "failed to ping mysql", err)
		os.Exit(1)
	}
	log.Info(ctx, "connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error(ctx, "failed to ping redis", err)
		os.Exit(1)
	}
	log.Info(ctx, "connected to redis")

	store := storage.NewRedisStore(rdb, cfg.Engine.TransactRetries)
	archive := storage.NewMySQLArchive(db)

	// Mirror the shared entity set.
	engine := service.NewEngine(store, log, &logObserver{ctx: ctx, log: log}, nil)
	if err := engine.LoadAll(ctx); err != nil {
		log.Error(ctx, "initial load failed", err)
		os.Exit(1)
	}
	if err := engine.Attach(ctx); err != nil {
		log.Error(ctx, "attach failed", err)
		os.Exit(1)
	}
	log.Info(ctx, fmt.Sprintf("mirroring %d entities", engine.Mirror().Len()))

	// Archive pipeline: pump today's bucket into the queue, drain with a
	// worker pool.
	audit := service.NewAuditLogger(store, log, cfg.Engine.ArchiveQueueSize)
	go audit.RunArchivePump(ctx, archivePumpInterval)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Engine.ArchiveWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			service.ArchiveWorker(id, audit.Queue(), archive, log)
		}(i)
	}
	log.Info(ctx, fmt.Sprintf("started %d archive workers", cfg.Engine.ArchiveWorkers))

	// Retention sweep.
	retention := service.NewRetention(engine, log, cfg.Engine.RetentionWindow)
	go retention.Run(ctx, cfg.Engine.RetentionSweep)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(ctx, "shutting down...")
	cancel()

	engine.Detach()
	audit.Close()
	wg.Wait()
	log.Info(ctx, "archive workers stopped")

	rdb.Close()
	db.Close()
	log.Info(ctx, "connections closed")
}

// logObserver surfaces entity lifecycle events in the daemon log.
type logObserver struct {
	ctx context.Context
	log *logger.Logger
}

func (o *logObserver) OnAdded(e domain.Entity) {
	o.log.Info(o.log.WithEntityID(o.ctx, e.ID), "entity added")
}

func (o *logObserver) OnChanged(e domain.Entity) {
	o.log.Debug(o.log.WithEntityID(o.ctx, e.ID), fmt.Sprintf("entity changed, counter=%d", e.CounterValue))
}

func (o *logObserver) OnRemoved(id string) {
	o.log.Info(o.log.WithEntityID(o.ctx, id), "entity removed")
}

func (o *logObserver) OnSyncReady() {
	o.log.Info(o.ctx, "initial replay complete")
}
