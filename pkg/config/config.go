package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// DefaultFile is read when no config path is given. It is optional.
const DefaultFile = "proxybatch.ini"

const envPrefix = "PROXYBATCH_"

// Backends accepted by the runner.
const (
	BackendPlaywright = "playwright"
	BackendHTTP       = "http"
)

type Config struct {
	ProxyFile       string        `ini:"proxy_file" validate:"required"`
	IdentityURL     string        `ini:"identity_url" validate:"required,url"`
	Timeout         time.Duration `ini:"timeout" validate:"gt=0s"`
	MinDwell        time.Duration `ini:"min_dwell" validate:"gte=0s"`
	MaxDwell        time.Duration `ini:"max_dwell" validate:"gtefield=MinDwell"`
	Headless        bool          `ini:"headless"`
	MinPerBatch     int           `ini:"min_per_batch" validate:"min=1"`
	MaxPerBatch     int           `ini:"max_per_batch" validate:"gtefield=MinPerBatch"`
	Delay           time.Duration `ini:"delay" validate:"gte=0s"`
	CloseAfterUse   bool          `ini:"close_after_use"`
	Backend         string        `ini:"backend" validate:"oneof=playwright http"`
	PrecheckTimeout time.Duration `ini:"precheck_timeout" validate:"gte=0s"`
	DetectLeaks     bool          `ini:"detect_leaks"`
	LogLevel        string        `ini:"log_level"`

	Fleet FleetConfig `ini:"fleet"`
}

// FleetConfig holds the settings of the proxy servers provisioned by the
// fleet commands.
type FleetConfig struct {
	Username string `ini:"username"`
	Password string `ini:"password"`
	Port     int    `ini:"port" validate:"min=1,max=65535"`
	Image    string `ini:"image" validate:"required"`
	Token    string `ini:"-"`
	SSHKey   string `ini:"-"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		ProxyFile:     "proxies.txt",
		IdentityURL:   "https://httpbin.org/ip",
		Timeout:       10 * time.Second,
		MinPerBatch:   2,
		MaxPerBatch:   4,
		Delay:         5 * time.Second,
		CloseAfterUse: true,
		Backend:       BackendPlaywright,
		LogLevel:      "info",
		Fleet: FleetConfig{
			Port:  8080,
			Image: "fedora-39",
		},
	}
}

// Load builds the configuration from defaults, the INI file at path, a .env
// file in the working directory and PROXYBATCH_* environment variables, in
// that order. A missing DefaultFile is not an error; any other missing path is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultFile
	}
	if err := loadIni(cfg, path); err != nil {
		if !(path == DefaultFile && errors.Is(err, os.ErrNotExist)) {
			return nil, err
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadIni(cfg *Config, fileName string) error {
	if _, err := os.Stat(fileName); err != nil {
		return fmt.Errorf("config file '%s': %w", fileName, err)
	}
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return fmt.Errorf("failed to parse config file '%s': %w", fileName, err)
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return fmt.Errorf("failed to map config file '%s': %w", fileName, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	overrideString(&cfg.ProxyFile, "PROXY_FILE")
	overrideString(&cfg.IdentityURL, "IDENTITY_URL")
	overrideString(&cfg.Backend, "BACKEND")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	overrideString(&cfg.Fleet.Username, "FLEET_USERNAME")
	overrideString(&cfg.Fleet.Password, "FLEET_PASSWORD")

	cfg.Fleet.Token = os.Getenv("HETZNER_TOKEN")
	cfg.Fleet.SSHKey = os.Getenv("HETZNER_SSHKEY")

	for _, o := range []struct {
		target *time.Duration
		name   string
	}{
		{&cfg.Timeout, "TIMEOUT"},
		{&cfg.MinDwell, "MIN_DWELL"},
		{&cfg.MaxDwell, "MAX_DWELL"},
		{&cfg.Delay, "DELAY"},
		{&cfg.PrecheckTimeout, "PRECHECK_TIMEOUT"},
	} {
		if err := overrideDuration(o.target, o.name); err != nil {
			return err
		}
	}
	for _, o := range []struct {
		target *int
		name   string
	}{
		{&cfg.MinPerBatch, "MIN_PER_BATCH"},
		{&cfg.MaxPerBatch, "MAX_PER_BATCH"},
		{&cfg.Fleet.Port, "FLEET_PORT"},
	} {
		if err := overrideInt(o.target, o.name); err != nil {
			return err
		}
	}
	for _, o := range []struct {
		target *bool
		name   string
	}{
		{&cfg.Headless, "HEADLESS"},
		{&cfg.CloseAfterUse, "CLOSE_AFTER_USE"},
		{&cfg.DetectLeaks, "DETECT_LEAKS"},
	} {
		if err := overrideBool(o.target, o.name); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func overrideString(target *string, name string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		*target = v
	}
}

func overrideInt(target *int, name string) error {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
	*target = i
	return nil
}

func overrideBool(target *bool, name string) error {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
	*target = b
	return nil
}

func overrideDuration(target *time.Duration, name string) error {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
	*target = d
	return nil
}
