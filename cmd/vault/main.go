package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"vault-service/internal/MinIO"
	"vault-service/internal/config"
	"vault-service/internal/handler"
	"vault-service/internal/model/audit"
	"vault-service/internal/repository/crRepo"
	"vault-service/internal/repository/headCache"
	"vault-service/internal/repository/shareRepo"
	"vault-service/internal/repository/versionRepo"
	"vault-service/internal/service/crService"
	"vault-service/internal/service/fileService"
	"vault-service/pkg/database/postgres"
	"vault-service/pkg/database/redis"
	"vault-service/pkg/logger"
)

func main() {
	ctx := context.Background()
	ctx, _ = logger.New(ctx)
	log := logger.GetLogger(ctx)

	cfg, err := config.New()
	if err != nil {
		log.Fatal("Error loading config", zap.Error(err))
	}

	if err := postgres.Migrate(cfg.Postgres); err != nil {
		log.Fatal("Error running migrations", zap.Error(err))
	}
	conn, err := postgres.New(cfg.Postgres)
	if err != nil {
		log.Fatal("Error connecting to postgres", zap.Error(err))
	}
	defer conn.Close(ctx)

	redisClient := redis.New(cfg.Redis)
	if err := redis.Ping(ctx, redisClient); err != nil {
		log.Fatal("Error connecting to redis", zap.Error(err))
	}

	blobs, err := MinIO.New(cfg.MinIO)
	if err != nil {
		log.Fatal("Error connecting to minio", zap.Error(err))
	}

	versions := versionRepo.New(conn)
	crs := crRepo.New(conn)
	shares := shareRepo.New(conn)
	cache := headCache.New(redisClient)
	emitter := audit.NewLogEmitter(log.Zap())

	crSvc := crService.New(crs, versions, blobs, cache, emitter)
	fileSvc := fileService.New(versions, blobs, crSvc, cache, shares, emitter)

	router := handler.NewRouter(
		cfg.JWTSecret,
		handler.NewFileHandler(fileSvc),
		handler.NewCRHandler(crSvc),
	)

	log.Info("vault service listening", zap.String("port", cfg.HTTPPort))
	if err := router.Run(fmt.Sprintf(":%s", cfg.HTTPPort)); err != nil {
		log.Fatal("Failed to serve", zap.Error(err))
	}
}
