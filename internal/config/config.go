package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries every tunable of the provisioning pipeline. It is loaded
// once at startup and passed by value down the stages; nothing reads the
// environment after Load returns.
type Config struct {
	KeyDir  string
	KeyName string

	MachineCount int
	Box          string
	Subnet       string
	MemoryMB     int
	CPUCount     int

	Workdir             string
	VagrantfileTemplate string

	AdminUser  string
	UserPrefix string

	PollAttempts int
	PollInterval time.Duration
	CheckAll     bool
	VerifySSH    bool

	LogLevel         string
	LogFormat        string
	TelemetryEnabled bool
}

func Load() (*Config, error) {
	viper.SetDefault("key_dir", "./keys")
	viper.SetDefault("key_name", "vmlab_rsa")
	viper.SetDefault("machine_count", 3)
	viper.SetDefault("box", "ubuntu/bionic64")
	viper.SetDefault("subnet", "192.168.56")
	viper.SetDefault("memory_mb", 512)
	viper.SetDefault("cpu_count", 1)
	viper.SetDefault("workdir", "./cluster")
	viper.SetDefault("vagrantfile_template", "")
	viper.SetDefault("admin_user", "vagrant")
	viper.SetDefault("user_prefix", "test")
	viper.SetDefault("poll_attempts", 1)
	viper.SetDefault("poll_interval", "2s")
	viper.SetDefault("check_all", false)
	viper.SetDefault("verify_ssh", false)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("telemetry_enabled", false)

	viper.SetEnvPrefix("vmlab")
	viper.AutomaticEnv()

	cfg := &Config{
		KeyDir:              viper.GetString("key_dir"),
		KeyName:             viper.GetString("key_name"),
		MachineCount:        viper.GetInt("machine_count"),
		Box:                 viper.GetString("box"),
		Subnet:              viper.GetString("subnet"),
		MemoryMB:            viper.GetInt("memory_mb"),
		CPUCount:            viper.GetInt("cpu_count"),
		Workdir:             viper.GetString("workdir"),
		VagrantfileTemplate: viper.GetString("vagrantfile_template"),
		AdminUser:           viper.GetString("admin_user"),
		UserPrefix:          viper.GetString("user_prefix"),
		PollAttempts:        viper.GetInt("poll_attempts"),
		PollInterval:        viper.GetDuration("poll_interval"),
		CheckAll:            viper.GetBool("check_all"),
		VerifySSH:           viper.GetBool("verify_ssh"),
		LogLevel:            viper.GetString("log_level"),
		LogFormat:           viper.GetString("log_format"),
		TelemetryEnabled:    viper.GetBool("telemetry_enabled"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.MachineCount < 0 {
		return fmt.Errorf("machine count must not be negative, got %d", c.MachineCount)
	}

	if err := validateSubnet(c.Subnet); err != nil {
		return fmt.Errorf("subnet: %w", err)
	}

	if c.MemoryMB <= 0 {
		return fmt.Errorf("memory must be positive, got %d MB", c.MemoryMB)
	}

	if c.CPUCount <= 0 {
		return fmt.Errorf("cpu count must be positive, got %d", c.CPUCount)
	}

	if c.Box == "" {
		return fmt.Errorf("box must not be empty")
	}

	if c.AdminUser == "" || c.UserPrefix == "" {
		return fmt.Errorf("admin user and user prefix must not be empty")
	}

	if c.PollAttempts < 1 {
		return fmt.Errorf("poll attempts must be at least 1, got %d", c.PollAttempts)
	}

	if c.VagrantfileTemplate != "" {
		if _, err := os.Stat(c.VagrantfileTemplate); err != nil {
			return fmt.Errorf("vagrantfile template: cannot access %s: %w", c.VagrantfileTemplate, err)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("invalid log format: %s (valid: text, json)", c.LogFormat)
	}

	return nil
}

// validateSubnet checks that the value is the first three octets of an IPv4
// network, e.g. "192.168.56". Host addresses are derived by appending the
// fourth octet.
func validateSubnet(subnet string) error {
	if strings.Count(subnet, ".") != 2 {
		return fmt.Errorf("expected three dotted octets, got %q", subnet)
	}
	if ip := net.ParseIP(subnet + ".1"); ip == nil {
		return fmt.Errorf("not a valid IPv4 prefix: %q", subnet)
	}
	return nil
}
