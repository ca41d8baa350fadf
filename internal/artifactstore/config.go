package artifactstore

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Config describes the S3-compatible object store uploads go to. It is
// read from the environment so CI runners can inject credentials
// without putting them in the pipeline config file.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

// ConfigFromEnv reads WHEELSMITH_S3_* variables. Enabled() on the
// result reports whether uploads were requested at all.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Endpoint:  os.Getenv("WHEELSMITH_S3_ENDPOINT"),
		AccessKey: os.Getenv("WHEELSMITH_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("WHEELSMITH_S3_SECRET_KEY"),
		Region:    envDefault("WHEELSMITH_S3_REGION", "us-east-1"),
		UseSSL:    os.Getenv("WHEELSMITH_S3_USE_SSL") == "true",
		Bucket:    envDefault("WHEELSMITH_S3_BUCKET", "artifacts"),
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Enabled reports whether an endpoint was configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// Validate rejects incomplete store configurations.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	return nil
}

func envDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
