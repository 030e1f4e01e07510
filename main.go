package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"personagen/internal/api"
	"personagen/internal/auth"
	"personagen/internal/config"
	"personagen/internal/delivery"
	"personagen/internal/diag"
	"personagen/internal/queue"
	"personagen/internal/redis"
	"personagen/internal/service/ai"
	"personagen/internal/service/contextasm"
	"personagen/internal/service/history"
	"personagen/internal/service/memory"
	"personagen/internal/service/persona"
	"personagen/internal/service/preprocess"
	"personagen/internal/storage"
	"personagen/internal/worker"
)

func main() {
	cfgPath := os.Getenv("PERSONAGEN_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	dbType := os.Getenv("PERSONAGEN_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	logger.Info("opening database", zap.String("driver", dbType))
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		logger.Fatal("create redis client", zap.Error(err))
	}
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer, _ := os.Hostname()
	if consumer == "" {
		consumer = "personagen-1"
	}
	jobQueue := queue.New(rdb, consumer, logger)
	if err := jobQueue.EnsureGroup(ctx); err != nil {
		logger.Fatal("create consumer group", zap.Error(err))
	}

	resultTTL := time.Duration(cfg.Pipeline.ResultTTLMinutes) * time.Minute
	results := queue.NewResultStore(rdb, resultTTL)
	diagTTL := time.Duration(cfg.Pipeline.DiagnosticTTLHours) * time.Hour
	recorder := diag.NewRecorder(rdb, diagTTL, logger)

	personas := persona.NewStore(db)
	historyStore := history.NewStore(db)
	memoryStore := memory.NewSQLStore(db)

	resolver := worker.NewResolver(results, logger)
	go resolver.StartEvictor(ctx)

	manager := worker.NewManager(cfg, worker.ManagerDeps{
		Assembler:   contextasm.New(historyStore, logger),
		Retriever:   memory.NewRetriever(memoryStore, logger),
		Generator:   ai.NewExecutor(cfg, logger),
		Results:     results,
		Deferrals:   jobQueue,
		Deliverer:   delivery.NewRouter(cfg, logger),
		Memories:    memoryStore,
		History:     historyStore,
		Resolver:    resolver,
		Recorder:    recorder,
		Transcriber: preprocess.NewTranscriber(cfg, logger),
		Describer:   preprocess.NewDescriber(cfg, logger),
	}, logger)

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:  cfg.Pipeline.MinWorkers,
		MaxWorkers:  cfg.Pipeline.MaxWorkers,
		QueueSize:   cfg.Pipeline.QueueSize,
		IdleTimeout: time.Duration(cfg.Pipeline.WorkerIdleMinutes) * time.Minute,
	}, manager.Handle)

	go jobQueue.RunDeferred(ctx)
	go jobQueue.Consume(ctx, func(ctx context.Context, env queue.Envelope) {
		if err := dispatcher.Submit(ctx, env); err != nil {
			// buffer full: park briefly instead of dropping
			if derr := jobQueue.Defer(ctx, env, time.Now().Add(time.Second)); derr != nil {
				logger.Error("requeue of rejected envelope failed", zap.Error(derr))
			}
		}
	})

	authService := auth.NewService(cfg.BasicConfig.ServiceTokens)
	handlers := api.NewHandler(jobQueue, results, recorder, personas, authService)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	if err := router.Run(addr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
