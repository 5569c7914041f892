package config

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/lightspeed-presence/globals"
)

const (
	defaultLogLevel         = "INFO"
	defaultTokenLifetime    = 30 * 24 * time.Hour
	defaultMaxGroupsCount   = 3
	defaultGroupName        = "lobby"
	defaultPresenceTTL      = time.Minute
	defaultPresenceSize     = 1024
	defaultThrottleLimit    = 3
	defaultThrottleWindow   = 24 * time.Hour
	defaultPersistenceType  = "buntdb"
	defaultPersistenceDSN   = ":memory:"
	defaultKVType           = "memory"
	defaultKVPrefix         = "lsp"
	defaultKVSweepSpec      = "@every 10m"
	defaultRequestsPerSec   = 20
	defaultLockPath         = ""
	envPrefix               = "LSPRESENCE"
	configFileExtensionGlob = "*.toml"
)

// Config is the global configuration object which is filled via the configuration file, the environment
// (prefix LSPRESENCE_) and command line flags.
type Config struct {
	LogLevel           string            `mapstructure:"log_level"`
	JWTSecret          string            `mapstructure:"jwt_secret"`
	TokenLifetime      time.Duration     `mapstructure:"token_lifetime"`
	Administrators     []string          `mapstructure:"administrators"`
	DisableRegister    bool              `mapstructure:"disable_register"`
	DisableCreateGroup bool              `mapstructure:"disable_create_group"`
	MaxGroupsCount     int               `mapstructure:"max_groups_count"`
	DefaultGroupName   string            `mapstructure:"default_group_name"`
	PresenceConfig     PresenceConfig    `mapstructure:"presence"`
	ThrottleConfig     ThrottleConfig    `mapstructure:"throttle"`
	PersistenceConfig  PersistenceConfig `mapstructure:"persistence"`
	KVConfig           KVConfig          `mapstructure:"kv"`
	TransportConfig    TransportConfig   `mapstructure:"transport"`
}

// PresenceConfig configures the online member cache. TTL bounds how stale a roster may be, Size bounds the
// number of groups kept.
type PresenceConfig struct {
	TTL  time.Duration `mapstructure:"ttl"`
	Size int           `mapstructure:"size"`
}

// ThrottleConfig caps the number of registrations per source address within Window.
type ThrottleConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// PersistenceConfig selects the durable store. Type is one of "buntdb", "sqlite" or "postgres". LockPath, if
// set, is a lock file held for the lifetime of the server so only one process owns the in-process caches.
type PersistenceConfig struct {
	Type     string `mapstructure:"type"`
	DSN      string `mapstructure:"dsn"`
	LockPath string `mapstructure:"lock_path"`
}

// KVConfig selects the store for expiring counters (registration throttle, new user markers).
type KVConfig struct {
	Type      string `mapstructure:"type"` // memory or redis
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Prefix    string `mapstructure:"prefix"`
	SweepSpec string `mapstructure:"sweep_spec"` // cron spec for purging expired memory entries
}

type TransportConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("log-level", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	flagSet.String("jwt-secret", "", "secret used to sign session tokens")
	flagSet.StringSlice("administrators", nil, "user ids with administrator rights")
	flagSet.Bool("disable-register", false, "disable the registration of new users")
	flagSet.Bool("disable-create-group", false, "disable the creation of new groups")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("token_lifetime", defaultTokenLifetime)
	v.SetDefault("max_groups_count", defaultMaxGroupsCount)
	v.SetDefault("default_group_name", defaultGroupName)
	v.SetDefault("presence.ttl", defaultPresenceTTL)
	v.SetDefault("presence.size", defaultPresenceSize)
	v.SetDefault("throttle.limit", defaultThrottleLimit)
	v.SetDefault("throttle.window", defaultThrottleWindow)
	v.SetDefault("persistence.type", defaultPersistenceType)
	v.SetDefault("persistence.dsn", defaultPersistenceDSN)
	v.SetDefault("persistence.lock_path", defaultLockPath)
	v.SetDefault("kv.type", defaultKVType)
	v.SetDefault("kv.prefix", defaultKVPrefix)
	v.SetDefault("kv.sweep_spec", defaultKVSweepSpec)
	v.SetDefault("transport.requests_per_second", defaultRequestsPerSec)
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. Values from the
// environment and from flagSet (if not nil) override the file. It returns a validated Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	v := viper.New()
	setDefaults(v)
	if flagSet != nil {
		flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
		err := v.BindPFlags(flagSet)
		if err != nil {
			globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, configFileExtensionGlob))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		err = v.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			return nil, fmt.Errorf("could not read config: %w", err)
		}
	}
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	globals.AppLogger.Debug("config", "settings", v.AllSettings())
	return &cfg, nil
}

// Validate checks the values that have no usable default.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret must be set")
	}
	if c.TokenLifetime <= 0 {
		return fmt.Errorf("token_lifetime must be positive")
	}
	if c.MaxGroupsCount < 0 {
		return fmt.Errorf("max_groups_count must not be negative")
	}
	if c.DefaultGroupName == "" {
		return fmt.Errorf("default_group_name must not be empty")
	}
	switch c.PersistenceConfig.Type {
	case "buntdb", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid persistence type %q", c.PersistenceConfig.Type)
	}
	switch c.KVConfig.Type {
	case "memory":
	case "redis":
		if c.KVConfig.Addr == "" {
			return fmt.Errorf("kv.addr must be set for the redis kv store")
		}
	default:
		return fmt.Errorf("invalid kv type %q", c.KVConfig.Type)
	}
	return nil
}
