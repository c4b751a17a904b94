package server

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nimbleslab/chatgate/pkg/idp"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Address     string `yaml:"address" validate:"required"`
	Environment string `yaml:"environment" validate:"omitempty,oneof=development production"`

	Cookie   CookieConfig `yaml:"cookie" validate:"required"`
	Provider idp.Config   `yaml:"provider"`
	Routes   RoutesConfig `yaml:"routes"`
	Redis    RedisConfig  `yaml:"redis"`

	// LoginFlowTTL bounds how long a started OAuth login may take.
	LoginFlowTTL Duration `yaml:"login_flow_ttl"`
}

type CookieConfig struct {
	Name       string   `yaml:"name" validate:"required"`
	EncryptKey string   `yaml:"encrypt_key" validate:"required,base64"`
	SignKey    string   `yaml:"sign_key" validate:"required,base64"`
	MaxAge     Duration `yaml:"max_age"`
}

// Duration parses Go duration strings ("20m", "480h") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// RoutesConfig overrides the default route map. Empty lists keep the
// defaults; whether "/" is protected is decided here, not hardcoded.
type RoutesConfig struct {
	Protected []string `yaml:"protected"`
	AuthOnly  []string `yaml:"auth_only"`
	Exempt    []string `yaml:"exempt"`
}

// RedisConfig, when an address is set, moves the login-flow store to
// Redis so callbacks can land on any instance.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (c *Config) Production() bool {
	return c.Environment == "production"
}

// LoadConfigFile reads, env-expands and validates a YAML config.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("unmarshal config file: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &config, nil
}
