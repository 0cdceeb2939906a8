// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package config loads runtime configuration for the filemq-server and
// filemq-client binaries from environment variables, with an optional
// .env file for local development.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MountSpec is one PUBLISH directive: a physical directory and the virtual
// alias it is published under.
type MountSpec struct {
	Location string
	Alias    string
}

// ServerConfig captures runtime configuration for filemq-server.
type ServerConfig struct {
	BindAddr    string
	MetricsAddr string
	Mounts      []MountSpec
	LogLevel    string
	Verbose     bool
}

const (
	defaultBindAddr    = ":5670"
	defaultMetricsAddr = ":9090"
	defaultLogLevel    = "info"
)

// LoadServer reads ServerConfig from the environment, falling back to
// values from a .env file (if present) before applying defaults.
func LoadServer() (ServerConfig, error) {
	loadDotEnv()

	cfg := ServerConfig{
		BindAddr:    firstNonEmpty(os.Getenv("FILEMQ_BIND_ADDR"), defaultBindAddr),
		MetricsAddr: firstNonEmpty(os.Getenv("FILEMQ_METRICS_ADDR"), defaultMetricsAddr),
		LogLevel:    firstNonEmpty(os.Getenv("FILEMQ_LOG_LEVEL"), defaultLogLevel),
		Verbose:     parseBoolEnv("FILEMQ_VERBOSE"),
	}

	mounts, err := parseMounts(os.Getenv("FILEMQ_MOUNTS"))
	if err != nil {
		return ServerConfig{}, err
	}
	cfg.Mounts = mounts

	if len(cfg.Mounts) == 0 {
		return ServerConfig{}, fmt.Errorf("config: FILEMQ_MOUNTS must name at least one location:alias pair")
	}
	return cfg, nil
}

// parseMounts parses "location:alias,location:alias" into MountSpecs,
// resolving each location to an absolute path.
func parseMounts(raw string) ([]MountSpec, error) {
	var out []MountSpec
	for _, entry := range splitAndTrim(raw) {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("config: invalid FILEMQ_MOUNTS entry %q, want location:alias", entry)
		}
		abs, err := filepath.Abs(parts[0])
		if err != nil {
			return nil, fmt.Errorf("config: resolving mount location %q: %w", parts[0], err)
		}
		alias := parts[1]
		if !strings.HasPrefix(alias, "/") {
			alias = "/" + alias
		}
		out = append(out, MountSpec{Location: abs, Alias: alias})
	}
	return out, nil
}

// ClientConfig captures runtime configuration for filemq-client.
type ClientConfig struct {
	ServerEndpoint string
	ConnectTimeout time.Duration
	Inbox          string
	Subscriptions  []string
	ManifestPath   string
	LogLevel       string
	Verbose        bool
}

const (
	defaultServerEndpoint = "localhost:5670"
	defaultConnectTimeout = 5 * time.Second
	defaultManifestName   = ".filemq-manifest"
)

// LoadClient reads ClientConfig from the environment.
func LoadClient() (ClientConfig, error) {
	loadDotEnv()

	cfg := ClientConfig{
		ServerEndpoint: firstNonEmpty(os.Getenv("FILEMQ_SERVER_ENDPOINT"), defaultServerEndpoint),
		ConnectTimeout: defaultConnectTimeout,
		Inbox:          strings.TrimSpace(os.Getenv("FILEMQ_INBOX")),
		Subscriptions:  splitAndTrim(os.Getenv("FILEMQ_SUBSCRIBE")),
		LogLevel:       firstNonEmpty(os.Getenv("FILEMQ_LOG_LEVEL"), defaultLogLevel),
		Verbose:        parseBoolEnv("FILEMQ_VERBOSE"),
	}

	if raw := strings.TrimSpace(os.Getenv("FILEMQ_CONNECT_TIMEOUT")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("config: invalid FILEMQ_CONNECT_TIMEOUT: %w", err)
		}
		cfg.ConnectTimeout = d
	}

	if cfg.Inbox == "" {
		return ClientConfig{}, fmt.Errorf("config: FILEMQ_INBOX is required")
	}
	abs, err := filepath.Abs(cfg.Inbox)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("config: resolving FILEMQ_INBOX: %w", err)
	}
	cfg.Inbox = abs

	if len(cfg.Subscriptions) == 0 {
		return ClientConfig{}, fmt.Errorf("config: FILEMQ_SUBSCRIBE must name at least one virtual path")
	}

	cfg.ManifestPath = firstNonEmpty(os.Getenv("FILEMQ_MANIFEST_PATH"), filepath.Join(cfg.Inbox, defaultManifestName))

	return cfg, nil
}

// loadDotEnv best-effort loads a .env file from the working directory or
// one of its immediate parents, so `go run` from a subdirectory still
// picks up local overrides.
func loadDotEnv() {
	for _, name := range []string{".env", "../.env", "../../.env"} {
		if godotenv.Load(name) == nil {
			return
		}
	}
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseBoolEnv(key string) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return b
}
