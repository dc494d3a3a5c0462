// ABOUTME: Configuration for the vantasync command: defaults, YAML file, environment and flags.
// ABOUTME: The merged result is validated before any source or graph client is built.

package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/DaYuM/airbyte-connectors/internal/engine"
	"github.com/DaYuM/airbyte-connectors/internal/providers"
	"github.com/DaYuM/airbyte-connectors/internal/vanta"
)

// Config is the merged command configuration
type Config struct {
	MaxRecords                    int    `yaml:"max_records" validate:"gte=0"`
	FilterLastNDays               int    `yaml:"filter_last_n_days" validate:"gte=0"`
	UpdateExistingVulnerabilities bool   `yaml:"update_existing_vulnerabilities"`
	Graph                         string `yaml:"graph" validate:"required"`

	FarosURL       string        `yaml:"faros_url" validate:"omitempty,url"`
	FarosAPIKey    string        `yaml:"faros_api_key"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
	RateLimit      float64       `yaml:"rate_limit" validate:"gt=0"`
	MaxRetries     int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	QueryCacheTTL  time.Duration `yaml:"query_cache_ttl" validate:"gte=0"`

	Source          string   `yaml:"source" validate:"oneof=local mock ecr"`
	InputFile       string   `yaml:"input_file"`
	OutputFile      string   `yaml:"output_file"`
	ECRAccountID    string   `yaml:"ecr_account_id" validate:"omitempty,numeric,len=12"`
	ECRRegion       string   `yaml:"ecr_region"`
	ECRRepositories []string `yaml:"ecr_repositories"`
	ClusterScope    bool     `yaml:"cluster_scope"`
	Kubeconfig      string   `yaml:"kubeconfig"`

	Port     int           `yaml:"port" validate:"min=1,max=65535"`
	Interval time.Duration `yaml:"interval" validate:"gte=1s"`
	MockMode bool          `yaml:"mock"`
	LogLevel string        `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn warning error"`
}

func defaultConfig() *Config {
	return &Config{
		MaxRecords:     vanta.DefaultMaxRecords,
		Graph:          "default",
		FarosURL:       "https://prod.api.faros.ai",
		RequestTimeout: 30 * time.Second,
		RateLimit:      5,
		MaxRetries:     3,
		Source:         providers.SourceLocal,
		Port:           9090,
		Interval:       time.Hour,
		LogLevel:       "info",
	}
}

// loadConfigFile overlays the YAML file at path onto cfg. An empty path is a no-op.
func loadConfigFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg with the environment variables that are set
func applyEnv(cfg *Config, getenv func(string) string) error {
	var errs []error
	str := func(key string, target *string) {
		if v := getenv(key); v != "" {
			*target = v
		}
	}
	integer := func(key string, target *int) {
		if v := getenv(key); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %q", key, v))
				return
			}
			*target = parsed
		}
	}
	boolean := func(key string, target *bool) {
		if v := getenv(key); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %q", key, v))
				return
			}
			*target = parsed
		}
	}
	duration := func(key string, target *time.Duration) {
		if v := getenv(key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %q", key, v))
				return
			}
			*target = parsed
		}
	}

	integer("VANTA_MAX_RECORDS", &cfg.MaxRecords)
	integer("VANTA_FILTER_LAST_N_DAYS", &cfg.FilterLastNDays)
	boolean("VANTA_UPDATE_EXISTING_VULNERABILITIES", &cfg.UpdateExistingVulnerabilities)
	str("FAROS_GRAPH", &cfg.Graph)
	str("FAROS_URL", &cfg.FarosURL)
	str("FAROS_API_KEY", &cfg.FarosAPIKey)
	duration("FAROS_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	integer("FAROS_MAX_RETRIES", &cfg.MaxRetries)
	duration("QUERY_CACHE_TTL", &cfg.QueryCacheTTL)
	str("SOURCE", &cfg.Source)
	str("INPUT_FILE", &cfg.InputFile)
	str("OUTPUT_FILE", &cfg.OutputFile)
	str("AWS_ECR_ACCOUNT_ID", &cfg.ECRAccountID)
	str("AWS_ECR_REGION", &cfg.ECRRegion)
	if v := getenv("AWS_ECR_REPOSITORIES"); v != "" {
		cfg.ECRRepositories = splitList(v)
	}
	boolean("CLUSTER_SCOPE", &cfg.ClusterScope)
	str("KUBECONFIG", &cfg.Kubeconfig)
	integer("PORT", &cfg.Port)
	duration("SYNC_INTERVAL", &cfg.Interval)
	boolean("MOCK_MODE", &cfg.MockMode)
	str("LOG_LEVEL", &cfg.LogLevel)

	return errors.Join(errs...)
}

// flagValues receives the command-line flags. Only flags the user changed are applied.
type flagValues struct {
	configFile string
	Config
}

func bindFlags(cmd *cobra.Command, fv *flagValues) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&fv.configFile, "config", "", "Path to a YAML config file")
	flags.StringVar(&fv.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flags.BoolVar(&fv.MockMode, "mock", false, "Use generated records and an in-memory graph (no external API calls)")

	flags.IntVar(&fv.MaxRecords, "max-records", vanta.DefaultMaxRecords, "Maximum records accepted per run, 0 disables the cap")
	flags.IntVar(&fv.FilterLastNDays, "filter-last-n-days", 0, "Ignore vulnerabilities created more than N days ago, 0 disables")
	flags.BoolVar(&fv.UpdateExistingVulnerabilities, "update-existing-vulnerabilities", false, "Mark graph vulnerabilities Vanta no longer reports as resolved")
	flags.StringVar(&fv.Graph, "graph", "default", "Faros graph name")
	flags.StringVar(&fv.FarosURL, "faros-url", "https://prod.api.faros.ai", "Faros API URL")
	flags.DurationVar(&fv.QueryCacheTTL, "query-cache-ttl", 0, "Cache entity lookups for this long, 0 disables")

	flags.StringVar(&fv.Source, "source", providers.SourceLocal, "Record source: local, mock or ecr")
	flags.StringVar(&fv.InputFile, "input-file", "", "Vanta export (JSON array or JSON lines) for the local source")
	flags.StringVar(&fv.OutputFile, "output-file", "", "Write destination records here instead of stdout")
	flags.StringVar(&fv.ECRAccountID, "ecr-account-id", "", "AWS account ID of the ECR registry")
	flags.StringVar(&fv.ECRRegion, "ecr-region", "", "AWS region of the ECR registry")
	flags.StringSliceVar(&fv.ECRRepositories, "ecr-repositories", nil, "ECR repositories to read, all when empty")
	flags.BoolVar(&fv.ClusterScope, "cluster-scope", false, "Only read images that EKS workloads are running")
	flags.StringVar(&fv.Kubeconfig, "kubeconfig", "", "Kubeconfig used outside the cluster, defaults to ~/.kube/config")
}

func bindServeFlags(cmd *cobra.Command, fv *flagValues) {
	cmd.Flags().IntVar(&fv.Port, "port", 9090, "Port to expose metrics and records on")
	cmd.Flags().DurationVar(&fv.Interval, "interval", time.Hour, "Interval between sync runs")
}

func applyFlags(cfg *Config, cmd *cobra.Command, fv *flagValues) {
	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if f := flags.Lookup(name); f != nil && f.Changed {
			apply()
		}
	}

	set("log-level", func() { cfg.LogLevel = fv.LogLevel })
	set("mock", func() { cfg.MockMode = fv.MockMode })
	set("max-records", func() { cfg.MaxRecords = fv.MaxRecords })
	set("filter-last-n-days", func() { cfg.FilterLastNDays = fv.FilterLastNDays })
	set("update-existing-vulnerabilities", func() { cfg.UpdateExistingVulnerabilities = fv.UpdateExistingVulnerabilities })
	set("graph", func() { cfg.Graph = fv.Graph })
	set("faros-url", func() { cfg.FarosURL = fv.FarosURL })
	set("query-cache-ttl", func() { cfg.QueryCacheTTL = fv.QueryCacheTTL })
	set("source", func() { cfg.Source = fv.Source })
	set("input-file", func() { cfg.InputFile = fv.InputFile })
	set("output-file", func() { cfg.OutputFile = fv.OutputFile })
	set("ecr-account-id", func() { cfg.ECRAccountID = fv.ECRAccountID })
	set("ecr-region", func() { cfg.ECRRegion = fv.ECRRegion })
	set("ecr-repositories", func() { cfg.ECRRepositories = fv.ECRRepositories })
	set("cluster-scope", func() { cfg.ClusterScope = fv.ClusterScope })
	set("kubeconfig", func() { cfg.Kubeconfig = fv.Kubeconfig })
	set("port", func() { cfg.Port = fv.Port })
	set("interval", func() { cfg.Interval = fv.Interval })
}

// resolveConfig merges defaults < file < environment < flags and validates the result
func resolveConfig(cmd *cobra.Command, fv *flagValues, getenv func(string) string) (*Config, error) {
	cfg := defaultConfig()
	if err := loadConfigFile(cfg, fv.configFile); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	applyFlags(cfg, cmd, fv)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(sourceSettings, Config{})
	return v
}

// sourceSettings checks the settings each record source and the Faros client need. Mock mode needs none.
func sourceSettings(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	if cfg.MockMode {
		return
	}
	if cfg.FarosURL == "" {
		sl.ReportError(cfg.FarosURL, "FarosURL", "faros_url", "required", "")
	}
	switch cfg.Source {
	case providers.SourceLocal:
		if cfg.InputFile == "" {
			sl.ReportError(cfg.InputFile, "InputFile", "input_file", "required_for_source", cfg.Source)
		}
	case providers.SourceECR:
		if cfg.ECRAccountID == "" {
			sl.ReportError(cfg.ECRAccountID, "ECRAccountID", "ecr_account_id", "required_for_source", cfg.Source)
		}
		if cfg.ECRRegion == "" {
			sl.ReportError(cfg.ECRRegion, "ECRRegion", "ecr_region", "required_for_source", cfg.Source)
		}
	}
}

func validateConfig(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) providerConfig() *providers.ProviderConfig {
	return &providers.ProviderConfig{
		Source:          c.Source,
		InputFile:       c.InputFile,
		ECRAccountID:    c.ECRAccountID,
		ECRRegion:       c.ECRRegion,
		ECRRepositories: c.ECRRepositories,
		ClusterScope:    c.ClusterScope,
		Kubeconfig:      c.Kubeconfig,
		MockMode:        c.MockMode,
		FarosURL:        c.FarosURL,
		FarosAPIKey:     c.FarosAPIKey,
		RequestTimeout:  c.RequestTimeout,
		RateLimit:       c.RateLimit,
		MaxRetries:      c.MaxRetries,
		QueryCacheTTL:   c.QueryCacheTTL,
	}
}

func (c *Config) engineConfig() *engine.Config {
	converter := vanta.DefaultConfig()
	converter.Graph = c.Graph
	converter.MaxRecords = c.MaxRecords
	converter.FilterLastNDays = c.FilterLastNDays
	converter.UpdateExistingVulnerabilities = c.UpdateExistingVulnerabilities
	return &engine.Config{
		Interval:  c.Interval,
		Converter: converter,
	}
}
