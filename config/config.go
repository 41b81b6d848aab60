package config

import (
	"os"
	"reflect"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ardanlabs/conf"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultConfigPath = "config/config.toml"
	Extension         = ".toml"

	EnvironmentDev  Environment = "dev"
	EnvironmentTest Environment = "test"
	EnvironmentProd Environment = "prod"

	// env vars holding the issuer key material; never written to config files
	Ed25519SeedEnvVar = "IAM_ED25519_SEED"
	EIP712KeyEnvVar   = "IAM_EIP712_KEY"

	ConfigPath EnvironmentVariable = "IAM_CONFIG_PATH"
)

type EnvironmentVariable string

func (e EnvironmentVariable) String() string {
	return string(e)
}

type Environment string

type IAMServiceConfig struct {
	conf.Version
	Server   ServerConfig   `toml:"server"`
	Services ServicesConfig `toml:"services"`
}

// ServerConfig represents configurable properties for the HTTP server
type ServerConfig struct {
	Environment        Environment   `toml:"env" conf:"default:dev"`
	APIHost            string        `toml:"api_host" conf:"default:0.0.0.0:3000"`
	JagerHost          string        `toml:"jager_host" conf:"http://jaeger:14268/api/traces"`
	JagerEnabled       bool          `toml:"jager_enabled" conf:"default:false"`
	ReadTimeout        time.Duration `toml:"read_timeout" conf:"default:5s"`
	WriteTimeout       time.Duration `toml:"write_timeout" conf:"default:5s"`
	ShutdownTimeout    time.Duration `toml:"shutdown_timeout" conf:"default:5s"`
	LogLocation        string        `toml:"log_location" conf:"default:log"`
	LogLevel           string        `toml:"log_level" conf:"default:debug"`
	EnableAllowAllCORS bool          `toml:"enable_allow_all_cors" conf:"default:false"`
}

// ServicesConfig represents configurable properties for the components of the IAM Service
type ServicesConfig struct {
	// Issuer key material, read from the environment only.
	Ed25519Seed string `toml:"-" conf:"noprint"`
	EIP712Key   string `toml:"-" conf:"noprint"`

	// Additional issuer DIDs accepted during credential verification, e.g.
	// while rotating keys.
	ExtraTrustedIssuers []string `toml:"extra_trusted_issuers"`

	ChallengeConfig   ChallengeServiceConfig   `toml:"challenge,omitempty"`
	PriceConfig       PriceServiceConfig       `toml:"price,omitempty"`
	AttestationConfig AttestationServiceConfig `toml:"attestation,omitempty"`
}

// BaseServiceConfig represents configurable properties for a specific component of the IAM Service
type BaseServiceConfig struct {
	Name string `toml:"name"`
}

type ChallengeServiceConfig struct {
	*BaseServiceConfig
}

func (c *ChallengeServiceConfig) IsEmpty() bool {
	if c == nil {
		return true
	}
	return reflect.DeepEqual(c, &ChallengeServiceConfig{})
}

type PriceServiceConfig struct {
	*BaseServiceConfig
	// FeedURL serves the native token's USD price as {"usdPrice": <float>}.
	FeedURL       string        `toml:"feed_url"`
	RedisAddress  string        `toml:"redis_address"`
	RedisPassword string        `toml:"redis_password" conf:"noprint"`
	CacheTTL      time.Duration `toml:"cache_ttl" conf:"default:5m"`
}

func (p *PriceServiceConfig) IsEmpty() bool {
	if p == nil {
		return true
	}
	return reflect.DeepEqual(p, &PriceServiceConfig{})
}

// ChainConfig describes one on-chain deployment attestations can target.
type ChainConfig struct {
	// ChainIDHex is the 0x-prefixed hex chain id clients address this deployment by.
	ChainIDHex string `toml:"chain_id_hex"`
	// VerifierContract is the meta-transaction verifier the signed payload is relayed to.
	VerifierContract string `toml:"verifier_contract"`
	StampSchema      string `toml:"stamp_schema"`
	PassportSchema   string `toml:"passport_schema"`
	ScoreSchema      string `toml:"score_schema"`
}

type AttestationServiceConfig struct {
	*BaseServiceConfig
	// FeeUSD is the attestation fee, converted to native token units per request.
	FeeUSD   float64       `toml:"fee_usd" conf:"default:2"`
	ScorerID int           `toml:"scorer_id"`
	Chains   []ChainConfig `toml:"chains"`
}

func (a *AttestationServiceConfig) IsEmpty() bool {
	if a == nil {
		return true
	}
	return reflect.DeepEqual(a, &AttestationServiceConfig{})
}

// LoadConfig attempts to load a TOML config file from the given path, and coerce
// it into our object model. Before loading, defaults are applied on certain properties,
// which are overwritten if specified in the TOML file.
func LoadConfig(path string) (*IAMServiceConfig, error) {
	loadDefaultConfig, err := checkValidConfigPath(path)
	if err != nil {
		return nil, errors.Wrap(err, "validate config path")
	}

	// create the config object
	var config IAMServiceConfig
	if err = conf.Parse(os.Args[1:], ServiceName, &config); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}

	if loadDefaultConfig {
		config.Services = defaultServicesConfig()
	} else {
		if _, err = toml.DecodeFile(path, &config); err != nil {
			return nil, errors.Wrapf(err, "could not load config: %s", path)
		}
	}

	// issuer keys always come from the environment
	if err = godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("no .env file found")
	}
	config.Services.Ed25519Seed = os.Getenv(Ed25519SeedEnvVar)
	config.Services.EIP712Key = os.Getenv(EIP712KeyEnvVar)

	return &config, nil
}

func checkValidConfigPath(path string) (bool, error) {
	// no path, load default config
	defaultConfig := false
	if path == "" {
		logrus.Info("no config path provided, loading default config...")
		defaultConfig = true
	} else if filepathExt := len(path) > len(Extension) && path[len(path)-len(Extension):] == Extension; !filepathExt {
		return false, errors.New("config must be a .toml file")
	} else if _, err := os.Stat(path); err != nil {
		return false, errors.Wrapf(err, "could not load config: %s", path)
	}
	return defaultConfig, nil
}

func defaultServicesConfig() ServicesConfig {
	return ServicesConfig{
		ChallengeConfig: ChallengeServiceConfig{
			BaseServiceConfig: &BaseServiceConfig{Name: "challenge"},
		},
		PriceConfig: PriceServiceConfig{
			BaseServiceConfig: &BaseServiceConfig{Name: "price"},
			FeedURL:           "http://localhost:8081/price",
			RedisAddress:      "localhost:6379",
			CacheTTL:          5 * time.Minute,
		},
		AttestationConfig: AttestationServiceConfig{
			BaseServiceConfig: &BaseServiceConfig{Name: "attestation"},
			FeeUSD:            2,
			ScorerID:          1,
			Chains: []ChainConfig{
				{
					ChainIDHex:       "0xa",
					VerifierContract: "0x2443D22Db6d25D141A1138D80724e3Eee54FD4C2",
					StampSchema:      "0x853a55f39e2d1bf1e6731ae7148976fbbb0c188a898a233dba61a233d8c0e4a4",
					PassportSchema:   "0xda0257756063c891659fed52fd36ef7557f7b45d66f59645fd3c3b263b747254",
					ScoreSchema:      "0x6ab5d34260fca0cfcf0e76e96d439cace6aa7c3c019d7c4580ed52c6845e9c89",
				},
			},
		},
	}
}
