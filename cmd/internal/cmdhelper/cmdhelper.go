package cmdhelper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/tweag/asset-relay/api"
	"github.com/tweag/asset-relay/internal/logging"
)

func FatalFmt(format string, args ...any) {
	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}

type OSConfigReader struct {
	ConfigPath string
}

func (r OSConfigReader) Read(config api.GlobalConfig) (api.GlobalConfig, error) {
	file, err := os.Open(r.ConfigPath)
	if err != nil {
		if os.IsNotExist(err) {
			return config, api.ErrConfigNotFound
		}
		return config, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	err = decoder.Decode(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}

func SubstituteHome(p string) string {
	if len(p) == 0 || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return home + p[1:]
}

type FlagPreset uint

const (
	FlagPresetNone   FlagPreset = 0
	FlagPresetServer            = 1 << iota
	FlagPresetTransform
)

// GlobalFlags holds the flag values of one command until they are merged with the config file.
type GlobalFlags struct {
	flagSet    *pflag.FlagSet
	configPath string
	overlay    api.GlobalConfig
}

// RegisterGlobalFlags adds the shared flags to flagSet.
// Call Configure once the flags were parsed.
func RegisterGlobalFlags(flagSet *pflag.FlagSet, preset FlagPreset) *GlobalFlags {
	f := &GlobalFlags{flagSet: flagSet}
	config := &f.overlay
	flagSet.StringVar(&f.configPath, "config", "", "Path to the config file. Default: "+api.ConfigFileEnv+" or ./"+defaultConfigFile)
	flagSet.StringVar(&config.StorageRoot, "storage_root", "", "Directory containing the public/, private/ and cache/ buckets")
	flagSet.IntVar(&config.DefaultTokenTTLSeconds, "default_token_ttl", 0, "Lifetime of issued tokens in seconds when none is requested")
	flagSet.StringVar(&config.PublicBaseURL, "public_base_url", "", "Base URL of signed URLs, e.g. https://assets.example.com")
	flagSet.StringVar(&config.LogLevel, "log_level", "", `Log level. one of "error", "warning", "basic", "debug"`)
	flagSet.StringVar(&config.LogFormat, "log_format", "", `Log format. one of "console", "json"`)
	flagSet.StringVar(&config.LogFile, "log_file", "", "Write logs to this file (rotated by size) instead of stderr")

	if preset&FlagPresetServer != 0 {
		flagSet.StringVar(&config.ListenAddress, "listen", "", "Address of the public HTTP listener")
		flagSet.StringVar(&config.ManagementListenAddress, "management_listen", "", "Address of the management listener (token issuance, metrics). Keep it internal")
		flagSet.StringVar(&config.GRPCListenAddress, "grpc_listen", "", "Address of the gRPC ByteStream listener. Disabled if empty")
	}
	if preset&FlagPresetTransform != 0 {
		flagSet.StringVar(&config.CacheRoot, "cache_root", "", "Directory for derived files. Default: <storage_root>/cache")
		flagSet.StringVar(&config.DigestFunction, "digest_function", "", "Hash function used to derive cache keys")
		flagSet.IntVar(&config.TransformWorkers, "transform_workers", 0, "Number of concurrent transformations. Default: number of CPUs")
		flagSet.IntVar(&config.MaxDimension, "max_dimension", 0, "Largest width or height a transformation may produce")
	}
	return f
}

// Configure merges, in order: defaults, the config file, flags and the environment.
// It also applies the resulting logging configuration.
func (f *GlobalFlags) Configure() (api.GlobalConfig, error) {
	var configPath string
	ignoreMissing := true

	if configPathEnv, ok := os.LookupEnv(api.ConfigFileEnv); ok {
		configPath = configPathEnv
		ignoreMissing = false
	}
	if f.flagSet.Changed("config") {
		configPath = f.configPath
		ignoreMissing = false
	}

	fileConfig, err := readConfigFileOrDefault(configPath, ignoreMissing)
	if err != nil {
		return api.GlobalConfig{}, err
	}

	config, err := mergeConfigs(fileConfig, f.overlay)
	if err != nil {
		return api.GlobalConfig{}, err
	}
	if secret, ok := os.LookupEnv(api.SigningSecretEnv); ok {
		config.SigningSecret = secret
	}
	if level, ok := os.LookupEnv(api.LogLevelEnv); ok && !f.flagSet.Changed("log_level") {
		config.LogLevel = level
	}
	config.StorageRoot = SubstituteHome(config.StorageRoot)
	config.CacheRoot = SubstituteHome(config.CacheRoot)
	config.LogFile = SubstituteHome(config.LogFile)

	logging.SetLevel(logging.FromString(config.LogLevel))
	logging.Configure(logging.Options{Format: config.LogFormat, File: config.LogFile})
	return config, config.Validate()
}

const defaultConfigFile = ".asset-relay.json"

func readConfigFileOrDefault(configPath string, ignoreMissing bool) (api.GlobalConfig, error) {
	config := api.DefaultConfig()

	if ignoreMissing && configPath == "" {
		// default config (parse if exists)
		configPath = defaultConfigFile
	}
	configReader := OSConfigReader{ConfigPath: configPath}
	config, err := api.ReadConfig(configReader, config)
	if ignoreMissing && err == api.ErrConfigNotFound {
		return config, nil
	} else if err != nil {
		return api.GlobalConfig{}, fmt.Errorf("reading config from %s: %w", configPath, err)
	}
	return config, nil
}

func mergeConfigs(base, overlay api.GlobalConfig) (api.GlobalConfig, error) {
	overlayJSON, err := json.Marshal(overlay)
	if err != nil {
		return api.GlobalConfig{}, err
	}

	decoder := json.NewDecoder(bytes.NewReader(overlayJSON))
	decoder.DisallowUnknownFields()

	merged := base
	err = decoder.Decode(&merged)
	if err != nil {
		return api.GlobalConfig{}, err
	}
	return merged, nil
}
