// Package config loads the report settings from a settings file, a .env file
// and CR_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/chargereport/chargereport/pkg/types"
)

const (
	// EnvPrefix marks environment variables that override settings.
	// CR_ZAPTEC__PASSWORD sets zaptec.password.
	EnvPrefix = "CR_"

	DefaultCostPerKWH = 0.25
	DefaultFromName   = "Zaptec Report Service"
)

type Config struct {
	Zaptec     ZaptecConfig     `json:"zaptec"`
	Pricing    types.Pricing    `json:"pricing"`
	ReportInfo types.ReportInfo `json:"reportInfo"`
	Email      EmailConfig      `json:"email"`
}

type ZaptecConfig struct {
	APIBaseURL     string `json:"apiBaseUrl"`
	InstallationID string `json:"installationId"`
	Username       string `json:"username"`
	Password       string `json:"password"`
}

func (c ZaptecConfig) Validate() error {
	var errs []error
	if c.InstallationID == "" {
		errs = append(errs, errors.New("zaptec.installationId not configured"))
	}
	if c.Username == "" {
		errs = append(errs, errors.New("zaptec.username not configured"))
	}
	if c.Password == "" {
		errs = append(errs, errors.New("zaptec.password not configured"))
	}
	return errors.Join(errs...)
}

type EmailConfig struct {
	SendGridAPIKey  string   `json:"sendGridApiKey"`
	SendGridHost    string   `json:"sendGridHost"`
	FromEmail       string   `json:"fromEmail"`
	FromName        string   `json:"fromName"`
	ToEmails        []string `json:"toEmails"`
	CcEmails        []string `json:"ccEmails"`
	BccEmails       []string `json:"bccEmails"`
	SubjectTemplate string   `json:"subjectTemplate"`
}

func (c *EmailConfig) SetDefaults() {
	if c.FromName == "" {
		c.FromName = DefaultFromName
	}
	if c.SendGridAPIKey == "" {
		c.SendGridAPIKey = os.Getenv("SENDGRID_API_KEY")
	}
}

// Validate is only called when a report is about to be e-mailed.
func (c EmailConfig) Validate() error {
	var errs []error
	if c.SendGridAPIKey == "" {
		errs = append(errs, errors.New("email.sendGridApiKey not configured"))
	}
	if c.FromEmail == "" {
		errs = append(errs, errors.New("email.fromEmail not configured"))
	}
	if len(c.ToEmails) == 0 {
		errs = append(errs, errors.New("email.toEmails not configured"))
	}
	return errors.Join(errs...)
}

// knownKeys maps lowercased keys back to their canonical spelling so that
// environment overrides land on the same key as the settings file.
var knownKeys = func() map[string]string {
	keys := []string{
		"zaptec.apiBaseUrl", "zaptec.installationId", "zaptec.username", "zaptec.password",
		"pricing.costPerKwh",
		"reportInfo.employee", "reportInfo.address", "reportInfo.vehicleLicensePlate", "reportInfo.vehicleModel",
		"email.sendGridApiKey", "email.sendGridHost", "email.fromEmail", "email.fromName",
		"email.toEmails", "email.ccEmails", "email.bccEmails", "email.subjectTemplate",
	}
	m := make(map[string]string, len(keys))
	for _, k := range keys {
		m[strings.ToLower(k)] = k
	}
	return m
}()

var listKeys = map[string]bool{
	"email.toEmails":  true,
	"email.ccEmails":  true,
	"email.bccEmails": true,
}

// Load reads the settings file at path (JSON or YAML by extension), then the
// .env file at envFile and finally the environment. Empty paths are skipped
// and a missing .env file is not an error.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	k := koanf.New(".")
	if path != "" {
		var parser koanf.Parser
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if k.Exists("pricing.costPerKwh") {
		cost, err := ParseDecimal(k.String("pricing.costPerKwh"))
		if err != nil {
			return nil, fmt.Errorf("invalid pricing.costPerKwh: %w", err)
		}
		if err := k.Set("pricing.costPerKwh", cost); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if !k.Exists("pricing.costPerKwh") {
		cfg.Pricing.CostPerKWH = DefaultCostPerKWH
	}
	if cfg.Pricing.CostPerKWH < 0 {
		return nil, fmt.Errorf("invalid pricing.costPerKwh: must not be negative")
	}
	cfg.Email.SetDefaults()
	if err := cfg.Zaptec.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(key, value string) (string, interface{}) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if canonical, ok := knownKeys[key]; ok {
		key = canonical
	}
	if listKeys[key] {
		var list []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				list = append(list, v)
			}
		}
		return key, list
	}
	return key, value
}

// ParseDecimal parses a number that may use a comma as the decimal separator.
func ParseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	return strconv.ParseFloat(s, 64)
}
