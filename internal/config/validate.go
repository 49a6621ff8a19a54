package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/oralscan/internal/logging"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}
	if err := c.validateInference(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateMinio(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateInference() error {
	switch c.Inference.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("INFERENCE_PROVIDER must be %q or %q, got %q", ProviderOpenAI, ProviderGemini, c.Inference.Provider)
	}
	if c.Inference.Timeout <= 0 {
		return errors.New("INFERENCE_TIMEOUT must be positive")
	}
	if c.Inference.MaxDimension < 0 {
		return errors.New("INFERENCE_MAX_DIMENSION must not be negative")
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.MaxBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.MaxOpenConns <= 0 {
		return errors.New("DB_MAX_OPEN_CONNS must be positive")
	}
	if c.Database.MaxIdleConns < 0 || c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return errors.New("DB_MAX_IDLE_CONNS must be between 0 and DB_MAX_OPEN_CONNS")
	}
	return nil
}

func (c *Config) validateMinio() error {
	if strings.TrimSpace(c.Minio.Endpoint) == "" {
		return nil
	}
	if c.Minio.AccessKey == "" || c.Minio.SecretKey == "" {
		return errors.New("MINIO_ACCESS_KEY and MINIO_SECRET_KEY must be set when MINIO_ENDPOINT is set")
	}
	if c.Minio.Bucket == "" {
		return errors.New("MINIO_BUCKET must be set when MINIO_ENDPOINT is set")
	}
	return nil
}
