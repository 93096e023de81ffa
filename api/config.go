package api

import (
	"errors"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/tweag/asset-relay/integrity"
)

// ErrConfigNotFound is returned by a ConfigReader if the config source does not exist.
var ErrConfigNotFound = errors.New("config not found")

// GlobalConfig is the configuration for the asset-relay server.
// It can be read from a JSON file or passed as command-line flags.
// This configuration is shared by all subcommands.
// Once constructed, it is treated as immutable and passed to each component.
type GlobalConfig struct {
	// StorageRoot is the directory containing the public/, private/ and cache/ buckets.
	StorageRoot string `json:"storage_root,omitempty"`
	// CacheRoot holds derived (transformed) files.
	// Default: "<storage_root>/cache"
	CacheRoot string `json:"cache_root,omitempty"`
	// SigningSecret is the HMAC key for capability tokens.
	// It should be provided via the ASSET_RELAY_SIGNING_SECRET environment variable.
	SigningSecret string `json:"signing_secret,omitempty"`
	// DefaultTokenTTLSeconds is used when a token is issued without an explicit TTL.
	DefaultTokenTTLSeconds int `json:"default_token_ttl_seconds,omitempty"`
	// DigestFunction is the hash function used to derive cache keys.
	DigestFunction string `json:"digest_function,omitempty"`
	// ListenAddress is the public HTTP listener.
	ListenAddress string `json:"listen_address,omitempty"`
	// ManagementListenAddress serves token issuance and metrics.
	// It must not be reachable from the outside.
	ManagementListenAddress string `json:"management_listen_address,omitempty"`
	// GRPCListenAddress enables the ByteStream read service if set.
	GRPCListenAddress string `json:"grpc_listen_address,omitempty"`
	// PublicBaseURL is prepended to the paths of issued signed URLs.
	// Example: "https://assets.example.com"
	PublicBaseURL string `json:"public_base_url,omitempty"`
	// TransformWorkers bounds the number of concurrent image transformations.
	// Default: number of CPUs
	TransformWorkers int `json:"transform_workers,omitempty"`
	// MaxDimension is the largest width or height a transformation may produce.
	MaxDimension int `json:"max_dimension,omitempty"`
	// Log level. One of "error", "warning", "basic", "debug".
	// Note that some messages are always printed, regardless of the log level (e.g. errors).
	LogLevel string `json:"log_level,omitempty"`
	// LogFormat is either "console" or "json".
	LogFormat string `json:"log_format,omitempty"`
	// LogFile redirects logs into a size-rotated file instead of stderr.
	LogFile string `json:"log_file,omitempty"`
}

func (c GlobalConfig) Validate() error {
	issues := []string{}
	if c.StorageRoot == "" {
		issues = append(issues, `storage_root must be provided`)
	}
	switch {
	case c.SigningSecret == "":
		issues = append(issues, `signing_secret must be provided (or set `+SigningSecretEnv+`)`)
	case c.SigningSecret == "changeme":
		issues = append(issues, `signing_secret must not use the placeholder value`)
	case len(c.SigningSecret) < minSecretLength:
		issues = append(issues, `signing_secret must be at least 16 bytes long`)
	}
	if c.DefaultTokenTTLSeconds <= 0 {
		issues = append(issues, `default_token_ttl_seconds must be positive`)
	}
	if c.DigestFunction == "" {
		issues = append(issues, `digest_function must be provided`)
	} else if _, ok := integrity.AlgorithmFromString(c.DigestFunction); !ok {
		issues = append(issues, `digest_function must be one of `+supportedDigestFunctions())
	}
	if c.ListenAddress == "" {
		issues = append(issues, `listen_address must be provided`)
	}
	if c.ManagementListenAddress != "" && c.ManagementListenAddress == c.ListenAddress {
		issues = append(issues, `management_listen_address must differ from listen_address`)
	}
	if c.TransformWorkers < 0 {
		issues = append(issues, `transform_workers must not be negative`)
	}
	if c.MaxDimension <= 0 {
		issues = append(issues, `max_dimension must be positive`)
	}
	switch c.LogLevel {
	case "error", "warning", "basic", "debug": // allowed
	default:
		issues = append(issues, `log_level must be one of "error", "warning", "basic", "debug"`)
	}
	switch c.LogFormat {
	case "", "console", "json": // allowed
	default:
		issues = append(issues, `log_format must be one of "console", "json"`)
	}

	if len(issues) > 0 {
		return errors.New("config validation failed: \n  " + strings.Join(issues, "\n  "))
	}
	return nil
}

// CacheDir returns the directory for derived files.
func (c GlobalConfig) CacheDir() string {
	if c.CacheRoot != "" {
		return c.CacheRoot
	}
	return filepath.Join(c.StorageRoot, BucketCache)
}

func (c GlobalConfig) DefaultTokenTTL() time.Duration {
	return time.Duration(c.DefaultTokenTTLSeconds) * time.Second
}

func (c GlobalConfig) Workers() int {
	if c.TransformWorkers > 0 {
		return c.TransformWorkers
	}
	return runtime.NumCPU()
}

type ConfigReader interface {
	Read(baseConfig GlobalConfig) (GlobalConfig, error)
}

func ReadConfig(reader ConfigReader, config GlobalConfig) (GlobalConfig, error) {
	return reader.Read(config)
}

func DefaultConfig() GlobalConfig {
	return GlobalConfig{
		StorageRoot:             "./storage",
		DefaultTokenTTLSeconds:  300,
		DigestFunction:          "sha256",
		ListenAddress:           ":8080",
		ManagementListenAddress: "127.0.0.1:9090",
		MaxDimension:            4096,
		LogLevel:                "basic",
		LogFormat:               "console",
	}
}

const minSecretLength = 16

func supportedDigestFunctions() string {
	var quoted []string
	for alg := range integrity.SupportedAlgorithms() {
		quoted = append(quoted, `"`+alg.String()+`"`)
	}
	return strings.Join(quoted, ", ")
}
