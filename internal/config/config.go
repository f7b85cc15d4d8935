package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	SessionStore   string
	RedisURL       string
}

// File holds the settings that may be given in a YAML config file. Values
// passed as flags take precedence over the file.
type File struct {
	ServerAddr     string   `yaml:"server_addr"`
	DatabaseDSN    string   `yaml:"database_dsn"`
	SigningKey     string   `yaml:"signing_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	SessionStore   string   `yaml:"session_store"`
	RedisURL       string   `yaml:"redis_url"`
}

// LoadFile reads the YAML file at path over defaults. Environment variables
// referenced as $VAR or ${VAR} are expanded before parsing.
func LoadFile(path string, defaults File) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return defaults, fmt.Errorf("read config file: %w", err)
	}

	f := defaults
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &f); err != nil {
		return defaults, fmt.Errorf("parse config file: %w", err)
	}

	return f, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, errors.New("empty signing secret")
	}

	return key, nil
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, sessionStore, redisURL string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	if sessionStore == "" {
		sessionStore = SessionStoreMemory
	}
	if !slices.Contains([]string{SessionStoreMemory, SessionStoreRedis}, sessionStore) {
		return nil, fmt.Errorf("unknown session store %q", sessionStore)
	}
	if sessionStore == SessionStoreRedis && redisURL == "" {
		return nil, fmt.Errorf("redis URL cannot be empty with the redis session store")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:    databaseDSN,
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		SessionStore:   sessionStore,
		RedisURL:       redisURL,
	}, nil
}
