package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/nerrad567/rako-bridge/internal/infrastructure/config"
)

// Options holds the command line flags. Set flags override the config file
// and the environment.
type Options struct {
	ConfigPath string
	Hub        string
	Broker     string
	Username   string
	Password   string
}

// NewOptions returns options with the config path taken from
// RAKOBRIDGE_CONFIG.
func NewOptions() *Options {
	return &Options{ConfigPath: os.Getenv("RAKOBRIDGE_CONFIG")}
}

// Flags returns the flag set for the root command.
func (o *Options) Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("rakobridge", pflag.ContinueOnError)
	fs.StringVarP(&o.ConfigPath, "config", "c", o.ConfigPath, "path to the YAML config file (optional)")
	fs.StringVarP(&o.Hub, "hub", "r", o.Hub, "RAKO hub address, host or host:port")
	fs.StringVarP(&o.Broker, "mqtt", "m", o.Broker, "MQTT broker address, host or host:port")
	fs.StringVarP(&o.Username, "user", "u", o.Username, "MQTT username")
	fs.StringVarP(&o.Password, "password", "p", o.Password, "MQTT password")
	return fs
}

// Apply copies the set flags onto cfg.
func (o *Options) Apply(cfg *config.Config) error {
	if o.Hub != "" {
		host, port, err := splitHostPort(o.Hub)
		if err != nil {
			return fmt.Errorf("--hub: %w", err)
		}
		cfg.Hub.Address = host
		if port != 0 {
			cfg.Hub.Port = port
		}
	}
	if o.Broker != "" {
		host, port, err := splitHostPort(o.Broker)
		if err != nil {
			return fmt.Errorf("--mqtt: %w", err)
		}
		cfg.MQTT.Broker.Host = host
		if port != 0 {
			cfg.MQTT.Broker.Port = port
		}
	}
	if o.Username != "" {
		cfg.MQTT.Auth.Username = o.Username
	}
	if o.Password != "" {
		cfg.MQTT.Auth.Password = o.Password
	}
	return nil
}

// splitHostPort accepts "host" or "host:port". A missing port is returned
// as 0.
func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port present.
		return addr, 0, nil //nolint:nilerr // bare host is valid
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	if host == "" {
		return "", 0, fmt.Errorf("missing host in %q", addr)
	}
	return host, port, nil
}
