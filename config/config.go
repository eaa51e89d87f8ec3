/*
Package config provides configuration of the docstate client.

Configuration is read from YAML file once at startup, then overridden by the
environment variables listed in [Env]. Missing values are filled with defaults
and the result is validated. [Config] is a plain value never modified after
[Load] returns.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nspcc-dev/docstate/identifier"
	"github.com/nspcc-dev/docstate/identity"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration is returned on invalid configuration.
var ErrConfiguration = errors.New("invalid configuration")

// Supported networks.
const (
	NetworkTestnet = "testnet"
	NetworkMainnet = "mainnet"
)

// Environment variables overriding the file values.
const (
	EnvHost         = "DOCSTATE_HOST"
	EnvCorePort     = "DOCSTATE_CORE_PORT"
	EnvPlatformPort = "DOCSTATE_PLATFORM_PORT"
	EnvCoreUser     = "DOCSTATE_CORE_USER"
	EnvCorePassword = "DOCSTATE_CORE_PASSWORD"
	EnvIdentity     = "DOCSTATE_IDENTITY"
	EnvWIF          = "DOCSTATE_WIF"
)

// Env lists all supported environment variables.
var Env = []string{EnvHost, EnvCorePort, EnvPlatformPort, EnvCoreUser, EnvCorePassword, EnvIdentity, EnvWIF}

// Defaults.
const (
	DefaultHost            = "127.0.0.1"
	DefaultCorePort        = 19998
	DefaultPlatformPort    = 1443
	DefaultQuorumType      = 6
	DefaultCacheSize       = 100
	DefaultWaitTimeout     = 2 * time.Minute
	DefaultMaxAttempts     = 3
	DefaultRetryInterval   = time.Second
	DefaultInitialRevision = 1
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
)

const (
	defaultSigningKeyID = 0
	maxPort             = 1<<16 - 1
	logFormatJSON       = "json"
)

// Config is a complete client configuration.
type Config struct {
	Network    string     `yaml:"network"`
	Host       string     `yaml:"host"`
	Core       Core       `yaml:"core"`
	Platform   Platform   `yaml:"platform"`
	Submission Submission `yaml:"submission"`
	Documents  Documents  `yaml:"documents"`
	Wallet     Wallet     `yaml:"wallet"`
	Log        Log        `yaml:"log"`
}

// Core configures connection to the core chain node.
type Core struct {
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	QuorumType      int    `yaml:"quorum_type"`
	QuorumCacheSize int    `yaml:"quorum_cache_size"`
}

// Platform configures connection to the document platform.
type Platform struct {
	Port              int `yaml:"port"`
	ContractCacheSize int `yaml:"contract_cache_size"`
}

// Submission configures state transition submission.
type Submission struct {
	WaitTimeout   time.Duration `yaml:"wait_timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	VerifyQuorum  bool          `yaml:"verify_quorum"`
}

// Documents configures document construction.
type Documents struct {
	InitialRevision uint64 `yaml:"initial_revision"`
}

// Wallet holds identity acting by default and private keys of its public
// keys in Wallet Import Format indexed by key identifiers.
type Wallet struct {
	Identity string            `yaml:"identity"`
	Keys     map[uint32]string `yaml:"keys"`
}

// Log configures logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from the YAML file, applies environment
// overrides and defaults and validates the result. Empty path means
// configuration from the environment only.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}

		err = yaml.Unmarshal(data, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("%w: decode YAML: %w", ErrConfiguration, err)
		}
	}

	err := cfg.applyEnv(os.LookupEnv)
	if err != nil {
		return Config{}, err
	}

	cfg.setDefaults()

	err = cfg.Validate()
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (x *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvHost); ok {
		x.Host = v
	}

	for _, p := range []struct {
		env string
		dst *int
	}{
		{EnvCorePort, &x.Core.Port},
		{EnvPlatformPort, &x.Platform.Port},
	} {
		v, ok := lookup(p.env)
		if !ok {
			continue
		}

		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrConfiguration, p.env, err)
		}

		*p.dst = port
	}

	if v, ok := lookup(EnvCoreUser); ok {
		x.Core.User = v
	}

	if v, ok := lookup(EnvCorePassword); ok {
		x.Core.Password = v
	}

	if v, ok := lookup(EnvIdentity); ok {
		x.Wallet.Identity = v
	}

	if v, ok := lookup(EnvWIF); ok {
		if x.Wallet.Keys == nil {
			x.Wallet.Keys = make(map[uint32]string, 1)
		}
		x.Wallet.Keys[defaultSigningKeyID] = v
	}

	return nil
}

func (x *Config) setDefaults() {
	setDefault(&x.Network, NetworkTestnet)
	setDefault(&x.Host, DefaultHost)
	setDefault(&x.Core.Port, DefaultCorePort)
	setDefault(&x.Core.QuorumType, DefaultQuorumType)
	setDefault(&x.Core.QuorumCacheSize, DefaultCacheSize)
	setDefault(&x.Platform.Port, DefaultPlatformPort)
	setDefault(&x.Platform.ContractCacheSize, DefaultCacheSize)
	setDefault(&x.Submission.WaitTimeout, DefaultWaitTimeout)
	setDefault(&x.Submission.MaxAttempts, DefaultMaxAttempts)
	setDefault(&x.Submission.RetryInterval, DefaultRetryInterval)
	setDefault(&x.Documents.InitialRevision, DefaultInitialRevision)
	setDefault(&x.Log.Level, DefaultLogLevel)
	setDefault(&x.Log.Format, DefaultLogFormat)
}

func setDefault[T comparable](dst *T, def T) {
	var zero T
	if *dst == zero {
		*dst = def
	}
}

// Validate checks the configuration. Returns error matching
// [ErrConfiguration] on violation.
func (x Config) Validate() error {
	switch {
	case x.Network != NetworkTestnet && x.Network != NetworkMainnet:
		return invalid("unsupported network %q", x.Network)
	case x.Host == "":
		return invalid("missing host")
	case x.Core.Port <= 0 || x.Core.Port > maxPort:
		return invalid("invalid core port %d", x.Core.Port)
	case x.Platform.Port <= 0 || x.Platform.Port > maxPort:
		return invalid("invalid platform port %d", x.Platform.Port)
	case x.Core.QuorumCacheSize < 0 || x.Platform.ContractCacheSize < 0:
		return invalid("negative cache size")
	case x.Submission.WaitTimeout < 0:
		return invalid("negative wait timeout")
	case x.Submission.MaxAttempts < 1:
		return invalid("non-positive max attempts %d", x.Submission.MaxAttempts)
	case x.Submission.RetryInterval < 0:
		return invalid("negative retry interval")
	case x.Log.Format != DefaultLogFormat && x.Log.Format != logFormatJSON:
		return invalid("unsupported log format %q", x.Log.Format)
	}

	_, err := zapcore.ParseLevel(x.Log.Level)
	if err != nil {
		return invalid("log level: %v", err)
	}

	if x.Wallet.Identity != "" {
		_, err = identifier.Decode(x.Wallet.Identity)
		if err != nil {
			return invalid("wallet identity: %v", err)
		}
	}

	for id, wif := range x.Wallet.Keys {
		_, err = identity.DecodeWIF(wif, x.WIFVersion())
		if err != nil {
			return invalid("wallet key #%d: %v", id, err)
		}
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// WIFVersion returns version byte of the private keys in the network.
func (x Config) WIFVersion() byte {
	if x.Network == NetworkMainnet {
		return identity.WIFVersionMainnet
	}
	return identity.WIFVersionTestnet
}

// CoreEndpoint returns URL of the core node JSON-RPC.
func (x Config) CoreEndpoint() string {
	return fmt.Sprintf("http://%s:%d", x.Host, x.Core.Port)
}

// PlatformEndpoint returns URL of the platform JSON-RPC.
func (x Config) PlatformEndpoint() string {
	return fmt.Sprintf("http://%s:%d", x.Host, x.Platform.Port)
}

// IdentityID returns decoded wallet identity. The second value is false if
// it is not configured.
func (x Config) IdentityID() (identifier.ID, bool) {
	if x.Wallet.Identity == "" {
		return identifier.ID{}, false
	}

	id, err := identifier.Decode(x.Wallet.Identity)

	return id, err == nil
}

// Fields returns log fields describing the configuration. Credentials and
// keys are not included.
func (x Config) Fields() []zap.Field {
	return []zap.Field{
		zap.String("network", x.Network),
		zap.String("core", x.CoreEndpoint()),
		zap.String("platform", x.PlatformEndpoint()),
		zap.Bool("core_auth", x.Core.User != "" || x.Core.Password != ""),
		zap.String("identity", x.Wallet.Identity),
		zap.Int("wallet_keys", len(x.Wallet.Keys)),
		zap.Duration("wait_timeout", x.Submission.WaitTimeout),
		zap.Int("max_attempts", x.Submission.MaxAttempts),
	}
}

// NewLogger constructs logger by the configuration.
func (x Config) NewLogger() (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(x.Log.Level)
	if err != nil {
		return nil, invalid("log level: %v", err)
	}

	c := zap.NewProductionConfig()
	c.Level = lvl
	c.Encoding = x.Log.Format
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if x.Log.Format == DefaultLogFormat {
		c.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return c.Build()
}
