// Package config loads the monitor configuration from defaults, an
// optional YAML file and RENDERMON_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tomek7667/rendermon/internal/domain"
)

const envPrefix = "RENDERMON"

const (
	CounterSourceSNMP  = "snmp"
	CounterSourceIface = "iface"
	CounterSourceNone  = "none"
)

type Config struct {
	UDPAddr         string        `mapstructure:"udp_addr"`
	HTTPPort        int           `mapstructure:"http_port"`
	HistoryLength   int           `mapstructure:"history_length"`
	CounterInterval time.Duration `mapstructure:"counter_interval"`
	HealthInterval  time.Duration `mapstructure:"health_interval"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	NodeMaxAge      time.Duration `mapstructure:"node_max_age"`

	Mounts        []string      `mapstructure:"mounts"`
	RequireMount  bool          `mapstructure:"require_mount"`
	InternalHosts []domain.Host `mapstructure:"internal_hosts"`
	ExternalHosts []domain.Host `mapstructure:"external_hosts"`

	CounterSource string `mapstructure:"counter_source"`
	SNMP          SNMP   `mapstructure:"snmp"`
	Interface     string `mapstructure:"interface"`

	JSONOutput string `mapstructure:"json_output"`
	WebDir     string `mapstructure:"web_dir"`

	Log Log `mapstructure:"log"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

type SNMP struct {
	Target       string `mapstructure:"target"`
	Port         int    `mapstructure:"port"`
	Community    string `mapstructure:"community"`
	IfIndex      int    `mapstructure:"if_index"`
	HighCapacity bool   `mapstructure:"high_capacity"`
}

type Log struct {
	Level      string `mapstructure:"level"`
	Production bool   `mapstructure:"production"`
	File       string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("udp_addr", ":43217")
	v.SetDefault("http_port", 80)
	v.SetDefault("history_length", 120)
	v.SetDefault("counter_interval", "500ms")
	v.SetDefault("health_interval", "15s")
	v.SetDefault("probe_timeout", "2s")
	v.SetDefault("node_max_age", "0s")

	v.SetDefault("mounts", []string{"/mnt/lib", "/mnt/raid002", "/mnt/renders", "/mnt/renders_b"})
	v.SetDefault("require_mount", false)
	v.SetDefault("internal_hosts", []domain.Host{
		{Name: "RENDER_NAS", Address: "10.0.1.99"},
		{Name: "RENDER003", Address: "render003.local"},
		{Name: "RENDER005", Address: "render005.local"},
	})
	v.SetDefault("external_hosts", []domain.Host{
		{Name: "G_DNS", Address: "8.8.8.8"},
		{Name: "DROPBOX", Address: "dropbox.com"},
		{Name: "HOWIEM.NET", Address: "howiem.net"},
	})

	v.SetDefault("counter_source", CounterSourceSNMP)
	v.SetDefault("snmp.target", "10.0.1.1")
	v.SetDefault("snmp.port", 161)
	v.SetDefault("snmp.community", "public")
	v.SetDefault("snmp.if_index", 2)
	v.SetDefault("snmp.high_capacity", false)
	v.SetDefault("interface", "")

	v.SetDefault("json_output", "")
	v.SetDefault("web_dir", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.production", false)
	v.SetDefault("log.file", "")
}

// Load reads path, or rendermon.yaml from the working directory or
// /etc/rendermon when path is empty. Only a searched-for file may be
// missing.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("rendermon")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/rendermon/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.UDPAddr == "" {
		add("udp_addr must not be empty")
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		add("http_port %d out of range", c.HTTPPort)
	}
	if c.HistoryLength < 1 {
		add("history_length must be positive, got %d", c.HistoryLength)
	}
	if c.CounterInterval <= 0 {
		add("counter_interval must be positive")
	}
	if c.HealthInterval <= 0 {
		add("health_interval must be positive")
	}
	if c.ProbeTimeout <= 0 {
		add("probe_timeout must be positive")
	}
	if c.NodeMaxAge < 0 {
		add("node_max_age must not be negative")
	}

	for _, m := range c.Mounts {
		if strings.TrimSpace(m) == "" {
			add("mounts must not contain empty paths")
			break
		}
	}
	errs = append(errs, validateHosts("internal_hosts", c.InternalHosts)...)
	errs = append(errs, validateHosts("external_hosts", c.ExternalHosts)...)

	switch c.CounterSource {
	case CounterSourceSNMP:
		if c.SNMP.Target == "" {
			add("snmp.target must be set when counter_source is snmp")
		}
		if c.SNMP.Port < 1 || c.SNMP.Port > 65535 {
			add("snmp.port %d out of range", c.SNMP.Port)
		}
		if c.SNMP.IfIndex < 1 {
			add("snmp.if_index must be positive")
		}
	case CounterSourceIface, CounterSourceNone:
	default:
		add("unknown counter_source %q (want %s, %s or %s)", c.CounterSource, CounterSourceSNMP, CounterSourceIface, CounterSourceNone)
	}

	return errors.Join(errs...)
}

func validateHosts(key string, hosts []domain.Host) []error {
	var errs []error
	seen := make(map[string]struct{}, len(hosts))
	for i, h := range hosts {
		if h.Name == "" || h.Address == "" {
			errs = append(errs, fmt.Errorf("%s[%d] needs both name and address", key, i))
			continue
		}
		if _, dup := seen[h.Name]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate host name %q", key, h.Name))
		}
		seen[h.Name] = struct{}{}
	}
	return errs
}
