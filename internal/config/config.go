package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hostclick/kapi/internal/cluster"
	"github.com/hostclick/kapi/internal/render"
	"github.com/hostclick/kapi/internal/telemetry"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key: http.addr is read from KAPI_HTTP_ADDR.
const EnvPrefix = "KAPI"

type HTTP struct {
	Addr       string        `mapstructure:"addr"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

type Domain struct {
	Suffix string `mapstructure:"suffix"`
}

type Kube struct {
	Kubeconfig    string        `mapstructure:"kubeconfig"`
	Context       string        `mapstructure:"context"`
	Timeout       time.Duration `mapstructure:"timeout"`
	QPS           float32       `mapstructure:"qps"`
	Burst         int           `mapstructure:"burst"`
	Namespace     string        `mapstructure:"namespace"`
	NamespaceFile string        `mapstructure:"namespace_file"`
}

type Reconcile struct {
	StrictManifests bool `mapstructure:"strict_manifests"`
}

type Templates struct {
	Dir             string `mapstructure:"dir"`
	Backend         string `mapstructure:"backend"`
	BackendPort     int    `mapstructure:"backend_port"`
	IngressClass    string `mapstructure:"ingress_class"`
	Chart           string `mapstructure:"chart"`
	ChartVersion    string `mapstructure:"chart_version"`
	SourceName      string `mapstructure:"source_name"`
	SourceNamespace string `mapstructure:"source_namespace"`
}

type Auth struct {
	Require bool   `mapstructure:"require"`
	JWTKey  string `mapstructure:"jwt_key"`
}

type Store struct {
	DatabaseURL    string        `mapstructure:"database_url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type Telemetry struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	SinkURL   string        `mapstructure:"sink_url"`
	BatchMax  int           `mapstructure:"batch_max"`
	Interval  time.Duration `mapstructure:"interval"`
}

type OTel struct {
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	Environment string `mapstructure:"environment"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	HTTP      HTTP      `mapstructure:"http"`
	Domain    Domain    `mapstructure:"domain"`
	Kube      Kube      `mapstructure:"kube"`
	Reconcile Reconcile `mapstructure:"reconcile"`
	Templates Templates `mapstructure:"templates"`
	Auth      Auth      `mapstructure:"auth"`
	Store     Store     `mapstructure:"store"`
	Telemetry Telemetry `mapstructure:"telemetry"`
	OTel      OTel      `mapstructure:"otel"`
	Log       Log       `mapstructure:"log"`
}

var defaults = map[string]any{
	"http.addr":                  ":8080",
	"http.rate_limit":            60,
	"http.rate_window":           time.Minute,
	"domain.suffix":              "hostclick.am",
	"kube.kubeconfig":            "",
	"kube.context":               "",
	"kube.timeout":               30 * time.Second,
	"kube.qps":                   20,
	"kube.burst":                 40,
	"kube.namespace":             "",
	"kube.namespace_file":        cluster.ServiceAccountNamespaceFile,
	"reconcile.strict_manifests": false,
	"templates.dir":              "",
	"templates.backend":          "",
	"templates.backend_port":     80,
	"templates.ingress_class":    "",
	"templates.chart":            "wordpress",
	"templates.chart_version":    "",
	"templates.source_name":      "bitnami",
	"templates.source_namespace": "flux-system",
	"auth.require":               false,
	"auth.jwt_key":               "",
	"store.database_url":         "",
	"store.connect_timeout":      60 * time.Second,
	"telemetry.redis_addr":       "",
	"telemetry.sink_url":         "",
	"telemetry.batch_max":        100,
	"telemetry.interval":         10 * time.Second,
	"otel.endpoint":              "",
	"otel.insecure":              false,
	"otel.environment":           "",
	"log.level":                  "info",
}

// Unprefixed variables honoured for compatibility with existing deployments.
var legacyEnv = map[string]string{
	"templates.backend":    "SERVICE_NAME",
	"store.database_url":   "DATABASE_URL",
	"telemetry.redis_addr": "REDIS_ADDR",
	"otel.endpoint":        "OTEL_EXPORTER_OTLP_ENDPOINT",
	"otel.insecure":        "OTEL_EXPORTER_OTLP_INSECURE",
	"auth.jwt_key":         "JWT_SIGNING_KEY",
}

// New returns a viper instance with defaults and environment bindings.
// Command line flags are bound on top by the caller.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}
	return v
}

// Load reads path (or kapi.yaml from the working directory or /etc/kapi)
// into v and decodes the result. A missing default file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kapi")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/kapi/")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.RateLimit < 0 {
		errs = append(errs, errors.New("http.rate_limit must not be negative"))
	}
	if c.HTTP.RateLimit > 0 && c.HTTP.RateWindow <= 0 {
		errs = append(errs, errors.New("http.rate_window must be positive when rate limiting"))
	}
	if c.Templates.BackendPort < 1 || c.Templates.BackendPort > 65535 {
		errs = append(errs, fmt.Errorf("templates.backend_port %d out of range", c.Templates.BackendPort))
	}
	if c.Auth.Require && c.Auth.JWTKey == "" {
		errs = append(errs, errors.New("auth.jwt_key is required when auth.require is set"))
	}
	if c.Kube.Timeout < 0 {
		errs = append(errs, errors.New("kube.timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// Namespace is the default namespace for tenant resources: the configured
// override, else the pod's own namespace.
func (c *Config) Namespace() string {
	if c.Kube.Namespace != "" {
		return c.Kube.Namespace
	}
	return cluster.CurrentNamespace(c.Kube.NamespaceFile)
}

func (c *Config) ClusterOptions(userAgent string) cluster.Options {
	return cluster.Options{
		Kubeconfig: c.Kube.Kubeconfig,
		Context:    c.Kube.Context,
		Timeout:    c.Kube.Timeout,
		QPS:        c.Kube.QPS,
		Burst:      c.Kube.Burst,
		UserAgent:  userAgent,
	}
}

func (c *Config) RenderOptions(namespace string) render.Options {
	return render.Options{
		Dir:             c.Templates.Dir,
		Namespace:       namespace,
		Backend:         c.Templates.Backend,
		BackendPort:     c.Templates.BackendPort,
		IngressClass:    c.Templates.IngressClass,
		Chart:           c.Templates.Chart,
		ChartVersion:    c.Templates.ChartVersion,
		SourceName:      c.Templates.SourceName,
		SourceNamespace: c.Templates.SourceNamespace,
	}
}

func (c *Config) TelemetryOptions() telemetry.Options {
	return telemetry.Options{
		RedisAddr: c.Telemetry.RedisAddr,
		SinkURL:   c.Telemetry.SinkURL,
		BatchMax:  c.Telemetry.BatchMax,
		Interval:  c.Telemetry.Interval,
	}
}
