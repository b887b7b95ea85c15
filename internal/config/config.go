// Package config reads the process configuration from the environment and
// builds the es.Env from it.
package config

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/codewandler/chronicle-go/core/es"
	"github.com/codewandler/chronicle-go/internal/backend"
)

type Config struct {
	CipherKey     string             `env:"CIPHER_KEY"`
	Cipher        es.CipherAlgorithm `env:"CIPHER" envDefault:"aes-gcm"`
	HashAlgorithm es.HashAlgorithm   `env:"HASH_ALGORITHM" envDefault:"sha256"`
	DBURI         string             `env:"DB_URI" envDefault:"memory://"`
	IDFormat      string             `env:"ID_FORMAT" envDefault:"nanoid"`
	PageSize      int                `env:"PAGE_SIZE" envDefault:"100"`

	NATSURL           string `env:"NATS_URL"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"chronicle.events"`
	NATSStream        string `env:"NATS_STREAM" envDefault:"CHRONICLE_EVENTS"`

	LogLevel    slog.Level `env:"LOG_LEVEL" envDefault:"info"`
	MetricsAddr string     `env:"METRICS_ADDR"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Key decodes CipherKey. A missing key is an error; nothing generates one
// implicitly.
func (c Config) Key() (es.Key, error) {
	if strings.TrimSpace(c.CipherKey) == "" {
		return nil, fmt.Errorf("CIPHER_KEY is required (see keygen)")
	}
	return es.ParseKey(c.CipherKey)
}

// GenerateKey returns a random 256-bit key in the base64 form CIPHER_KEY takes.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Open builds the env described by cfg. Extra options are applied last.
func Open(ctx context.Context, cfg Config, log *slog.Logger, opts ...es.EnvOption) (*es.Env, error) {
	key, err := cfg.Key()
	if err != nil {
		return nil, err
	}
	hasher, err := es.NewHasher(cfg.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	idGen, err := es.NewIDGenerator(cfg.IDFormat)
	if err != nil {
		return nil, err
	}
	// fail on a bad cipher before touching the database
	if _, err := es.NewCipher(cfg.Cipher, key); err != nil {
		return nil, err
	}

	records, err := backend.Open(ctx, cfg.DBURI, log)
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}

	e, err := es.NewEnv(
		es.WithLog(log),
		es.WithRecordStore(records),
		es.WithKey(cfg.Cipher, key),
		es.WithHasher(hasher),
		es.WithIDGenerator(idGen),
		es.WithPageSize(cfg.PageSize),
		es.WithEnvOpts(opts...),
	)
	if err != nil {
		if c, ok := records.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}
	return e, nil
}
