package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config selects a provider and carries the settings of every provider.
// Only the section of the selected provider is validated.
type Config struct {
	Provider  string        `env:"STORAGE_PROVIDER"`
	URLExpiry time.Duration `env:"STORAGE_URL_EXPIRY" envDefault:"1h"`

	LocalPath string `env:"STORAGE_LOCAL_PATH" envDefault:"./uploads"`
	LocalURL  string `env:"STORAGE_LOCAL_URL" envDefault:"/uploads"`

	S3    S3Config    `envPrefix:"S3_"`
	MinIO MinIOConfig `envPrefix:"MINIO_"`
	B2    B2Config    `envPrefix:"B2_"`
}

// LoadConfig reads Config from the environment. Each envFile is loaded first
// and must exist; with no envFiles a .env in the working directory is loaded
// when present. Variables already set in the environment take precedence.
//
// Example:
//
//	cfg, err := storage.LoadConfig()
//	if err != nil {
//		return err
//	}
//	store, err := storage.New(ctx, cfg, storage.WithLogger(logger))
func LoadConfig(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		// A missing .env is fine
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return Config{}, fmt.Errorf("%w: load env files: %v", ErrInvalidConfig, err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(ErrInvalidConfig, err)
	}
	return cfg, nil
}
