package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	ConfigFileName = "config.hcl"
	DatabaseName   = "torcalc.db"
	LogFileName    = "debug.log"
	InstanceLock   = "launcher.lock"

	// DefaultEntrypoint is the script a Next.js server process runs from
	DefaultEntrypoint = "node_modules/next/dist/server/lib/start-server.js"
)

// Configuration is the resolved launcher configuration
type Configuration struct {
	DataDir   string
	UIRoot    string
	Dev       bool
	Host      string
	Port      int
	UITimeout time.Duration
	Shell     string // "chrome" or "none"
	Verbose   int

	// UseTestAuth is nil when unset; test auth then follows dev mode
	UseTestAuth *bool

	Health       HealthConfig
	Companion    CompanionConfig
	TestAccounts []TestAccount
}

// HealthConfig tunes the health prober
type HealthConfig struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	AcceptMin      int // lowest accepted status, inclusive
	AcceptMax      int // highest accepted status, exclusive
}

// CompanionConfig tunes how the companion server is spawned and stopped
type CompanionConfig struct {
	Entrypoint   string
	GracePeriod  time.Duration
	MaxPortTries int
	PTY          bool
	MinNodeMajor int
}

// TestAccount is a seeded login for the test-auth mode. Passwords live in the keyring.
type TestAccount struct {
	Username string
	Status   string
}

// Overrides carries values given explicitly on the command line
type Overrides struct {
	Dev       *bool
	Host      *string
	Port      *int
	UITimeout *float64
	UIRoot    *string
	DataDir   *string
	Shell     *string
	Verbose   int
}

// TestAuthEnabled resolves the test-auth toggle against the effective dev mode
func (c *Configuration) TestAuthEnabled(dev bool) bool {
	if c.UseTestAuth == nil {
		return dev
	}
	return *c.UseTestAuth
}

// DatabasePath returns the store location inside the data directory
func (c *Configuration) DatabasePath() string {
	return filepath.Join(c.DataDir, DatabaseName)
}

// LogPath returns the debug log location inside the data directory
func (c *Configuration) LogPath() string {
	return filepath.Join(c.DataDir, LogFileName)
}

// InstanceLockPath returns the launcher single-instance lock location
func (c *Configuration) InstanceLockPath() string {
	return filepath.Join(c.DataDir, InstanceLock)
}

// DefaultConfig returns a Configuration with built-in defaults
func DefaultConfig() *Configuration {
	return &Configuration{
		Host:      "localhost",
		Port:      3000,
		UITimeout: 30 * time.Second,
		Shell:     "chrome",
		Health: HealthConfig{
			ConnectTimeout: 250 * time.Millisecond,
			RequestTimeout: 2 * time.Second,
			AcceptMin:      200,
			AcceptMax:      500,
		},
		Companion: CompanionConfig{
			Entrypoint:   DefaultEntrypoint,
			GracePeriod:  5 * time.Second,
			MaxPortTries: 25,
			MinNodeMajor: 18,
		},
		TestAccounts: []TestAccount{
			{Username: "ettore", Status: "media"},
			{Username: "triazov", Status: "developer"},
		},
	}
}

// HCL parsing structs

type hclConfig struct {
	Host         *string          `hcl:"host,optional"`
	Port         *int             `hcl:"port,optional"`
	UITimeout    *float64         `hcl:"ui_timeout,optional"`
	Dev          *bool            `hcl:"dev,optional"`
	UIRoot       *string          `hcl:"ui_root,optional"`
	Shell        *string          `hcl:"shell,optional"`
	UseTestAuth  *bool            `hcl:"use_test_auth,optional"`
	Health       *hclHealth       `hcl:"health,block"`
	Companion    *hclCompanion    `hcl:"companion,block"`
	TestAccounts []hclTestAccount `hcl:"test_account,block"`
}

type hclHealth struct {
	ConnectTimeoutMs *int `hcl:"connect_timeout_ms,optional"`
	RequestTimeoutMs *int `hcl:"request_timeout_ms,optional"`
	AcceptMin        *int `hcl:"accept_min,optional"`
	AcceptMax        *int `hcl:"accept_max,optional"`
}

type hclCompanion struct {
	Entrypoint   *string `hcl:"entrypoint,optional"`
	GracePeriod  *string `hcl:"grace_period,optional"`
	MaxPortTries *int    `hcl:"max_port_tries,optional"`
	PTY          *bool   `hcl:"pty,optional"`
	MinNodeMajor *int    `hcl:"min_node_major,optional"`
}

type hclTestAccount struct {
	Username string `hcl:"username,label"`
	Status   string `hcl:"status"`
}

// envConfig mirrors the TORCALC_* environment. Zero values mean unset.
type envConfig struct {
	Dev         string  `env:"TORCALC_DEV"`
	Host        string  `env:"TORCALC_HOST"`
	Port        int     `env:"TORCALC_PORT"`
	UITimeout   float64 `env:"TORCALC_UI_TIMEOUT"`
	DataDir     string  `env:"TORCALC_DATA_DIR"`
	UIRoot      string  `env:"TORCALC_UI_ROOT"`
	UseTestAuth string  `env:"TORCALC_USE_TEST_AUTH"`
}

// Load resolves configuration from defaults, config.hcl, .env, the
// environment and command line overrides, in increasing precedence.
func Load(o Overrides) (*Configuration, error) {
	loadDotenv()

	var ec envConfig
	if err := env.Load(&ec, nil); err != nil {
		return nil, Wrap(KindConfiguration, "read environment", err)
	}
	if ec.Port == 0 {
		if v, ok := os.LookupEnv("TORCALC_PORT"); ok && strings.TrimSpace(v) != "" {
			return nil, Errorf(KindConfiguration, "read environment", "TORCALC_PORT must be between 1 and 65535, got %q", v)
		}
	}

	cfg := DefaultConfig()
	cfg.Verbose = o.Verbose

	dataDir, err := resolveDataDir(o.DataDir, ec.DataDir)
	if err != nil {
		return nil, Wrap(KindConfiguration, "data directory", err)
	}
	cfg.DataDir = dataDir

	configPath := filepath.Join(dataDir, ConfigFileName)
	if ConfigExists(configPath) {
		if err := LoadConfigFile(configPath, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg, ec); err != nil {
		return nil, err
	}
	applyOverrides(cfg, o)

	if cfg.UIRoot == "" {
		cfg.UIRoot = DefaultUIRoot()
	}
	if abs, err := filepath.Abs(cfg.UIRoot); err == nil {
		cfg.UIRoot = abs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotenv reads .env from the working directory and from next to the
// executable. Variables already set in the environment win.
func loadDotenv() {
	seen := map[string]bool{}
	for _, dir := range []string{".", executableDir()} {
		path, err := filepath.Abs(filepath.Join(dir, ".env"))
		if err != nil || seen[path] {
			continue
		}
		seen[path] = true
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

// LoadConfigFile decodes an HCL config file on top of cfg
func LoadConfigFile(filename string, cfg *Configuration) error {
	var hc hclConfig
	if err := hclsimple.DecodeFile(filename, nil, &hc); err != nil {
		return Wrap(KindConfiguration, "parse "+filename, err)
	}

	if hc.Host != nil {
		cfg.Host = *hc.Host
	}
	if hc.Port != nil {
		cfg.Port = *hc.Port
	}
	if hc.UITimeout != nil {
		cfg.UITimeout = secondsToDuration(*hc.UITimeout)
	}
	if hc.Dev != nil {
		cfg.Dev = *hc.Dev
	}
	if hc.UIRoot != nil {
		cfg.UIRoot = expandHome(*hc.UIRoot)
	}
	if hc.Shell != nil {
		cfg.Shell = *hc.Shell
	}
	if hc.UseTestAuth != nil {
		v := *hc.UseTestAuth
		cfg.UseTestAuth = &v
	}

	if h := hc.Health; h != nil {
		if h.ConnectTimeoutMs != nil {
			cfg.Health.ConnectTimeout = time.Duration(*h.ConnectTimeoutMs) * time.Millisecond
		}
		if h.RequestTimeoutMs != nil {
			cfg.Health.RequestTimeout = time.Duration(*h.RequestTimeoutMs) * time.Millisecond
		}
		if h.AcceptMin != nil {
			cfg.Health.AcceptMin = *h.AcceptMin
		}
		if h.AcceptMax != nil {
			cfg.Health.AcceptMax = *h.AcceptMax
		}
	}

	if c := hc.Companion; c != nil {
		if c.Entrypoint != nil {
			cfg.Companion.Entrypoint = *c.Entrypoint
		}
		if c.GracePeriod != nil {
			d, err := time.ParseDuration(*c.GracePeriod)
			if err != nil {
				return Errorf(KindConfiguration, "parse "+filename, "invalid companion.grace_period %q: %w", *c.GracePeriod, err)
			}
			cfg.Companion.GracePeriod = d
		}
		if c.MaxPortTries != nil {
			cfg.Companion.MaxPortTries = *c.MaxPortTries
		}
		if c.PTY != nil {
			cfg.Companion.PTY = *c.PTY
		}
		if c.MinNodeMajor != nil {
			cfg.Companion.MinNodeMajor = *c.MinNodeMajor
		}
	}

	if len(hc.TestAccounts) > 0 {
		cfg.TestAccounts = make([]TestAccount, 0, len(hc.TestAccounts))
		for _, a := range hc.TestAccounts {
			cfg.TestAccounts = append(cfg.TestAccounts, TestAccount{
				Username: strings.ToLower(strings.TrimSpace(a.Username)),
				Status:   a.Status,
			})
		}
	}

	return nil
}

func applyEnv(cfg *Configuration, ec envConfig) error {
	if v, ok := ParseBool(ec.Dev); ok && v {
		cfg.Dev = true
	}
	if ec.Host != "" {
		cfg.Host = ec.Host
	}
	if ec.Port != 0 {
		cfg.Port = ec.Port
	}
	if ec.UITimeout != 0 {
		cfg.UITimeout = secondsToDuration(ec.UITimeout)
	}
	if ec.UIRoot != "" {
		cfg.UIRoot = expandHome(ec.UIRoot)
	}
	if ec.UseTestAuth != "" {
		v, ok := ParseBool(ec.UseTestAuth)
		if !ok {
			return Errorf(KindConfiguration, "read environment", "TORCALC_USE_TEST_AUTH is not a boolean: %q", ec.UseTestAuth)
		}
		cfg.UseTestAuth = &v
	}
	return nil
}

func applyOverrides(cfg *Configuration, o Overrides) {
	if o.Dev != nil && *o.Dev {
		cfg.Dev = true
	}
	if o.Host != nil {
		cfg.Host = *o.Host
	}
	if o.Port != nil {
		cfg.Port = *o.Port
	}
	if o.UITimeout != nil {
		cfg.UITimeout = secondsToDuration(*o.UITimeout)
	}
	if o.UIRoot != nil {
		cfg.UIRoot = expandHome(*o.UIRoot)
	}
	if o.Shell != nil {
		cfg.Shell = *o.Shell
	}
}

// Validate rejects values the launcher cannot work with
func (c *Configuration) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if c.UITimeout <= 0 {
		errs = append(errs, fmt.Errorf("ui timeout must be positive, got %v", c.UITimeout))
	}
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host must not be empty"))
	}
	if c.Health.ConnectTimeout <= 0 || c.Health.RequestTimeout <= 0 {
		errs = append(errs, errors.New("health timeouts must be positive"))
	}
	if c.Health.AcceptMin < 100 || c.Health.AcceptMax > 600 || c.Health.AcceptMin >= c.Health.AcceptMax {
		errs = append(errs, fmt.Errorf("health accepted status range [%d, %d) is invalid", c.Health.AcceptMin, c.Health.AcceptMax))
	}
	if c.Companion.MaxPortTries < 0 {
		errs = append(errs, fmt.Errorf("companion.max_port_tries must not be negative, got %d", c.Companion.MaxPortTries))
	}
	if c.Companion.GracePeriod <= 0 {
		errs = append(errs, fmt.Errorf("companion.grace_period must be positive, got %v", c.Companion.GracePeriod))
	}
	switch c.Shell {
	case "chrome", "none":
	default:
		errs = append(errs, fmt.Errorf("shell must be \"chrome\" or \"none\", got %q", c.Shell))
	}
	if len(errs) > 0 {
		return Wrap(KindConfiguration, "validate", errors.Join(errs...))
	}
	return nil
}

// ParseBool accepts the usual spellings of a boolean toggle
func ParseBool(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	}
	return false, false
}

// ConfigExists checks if a config file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return err == nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
