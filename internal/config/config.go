package config

import (
	"errors"
	"os"

	"github.com/ilyakaznacheev/cleanenv"

	"vault-service/internal/MinIO"
	"vault-service/pkg/database/postgres"
	"vault-service/pkg/database/redis"
)

type Config struct {
	HTTPPort  string `env:"HTTP_PORT" env-default:"8080"`
	JWTSecret string `env:"JWT_TOKEN"`
	Postgres  postgres.Config
	Redis     redis.RedisConfig
	MinIO     MinIO.Config
}

// New reads ./.env when present, otherwise the process environment.
func New() (*Config, error) {
	var cfg Config
	if _, err := os.Stat(".env"); err == nil {
		if err := cleanenv.ReadConfig(".env", &cfg); err != nil {
			return nil, errors.New("cannot read config from .env")
		}
		return &cfg, nil
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, errors.New("cannot read config from environment")
	}
	return &cfg, nil
}
