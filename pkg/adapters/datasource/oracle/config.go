package oracle

import (
	"fmt"
	"strconv"

	go_ora "github.com/sijms/go-ora/v2"
)

// Config contains Oracle-specific connection options.
type Config struct {
	Host     string
	Port     int
	Service  string // Service name, e.g. "ORCLPDB1" or "FREEPDB1"
	Username string
	Password string

	// Owner is the schema that holds the ERP tables when it differs from
	// the connecting user. Empty means the user's own schema.
	Owner string

	ConnectionTimeout int // seconds
	PoolSize          int
}

// DefaultPort returns the default Oracle listener port.
func DefaultPort() int {
	return 1521
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:              DefaultPort(),
		ConnectionTimeout: DefaultConnectionTimeout(),
		PoolSize:          10,
	}

	if host, ok := config["host"].(string); ok {
		cfg.Host = host
	} else {
		return nil, fmt.Errorf("host is required")
	}

	if port, ok := intValue(config["port"]); ok {
		cfg.Port = port
	}

	if service, ok := config["service"].(string); ok {
		cfg.Service = service
	} else if name, ok := config["service_name"].(string); ok {
		cfg.Service = name
	} else {
		return nil, fmt.Errorf("service is required")
	}

	if username, ok := config["username"].(string); ok {
		cfg.Username = username
	} else if user, ok := config["user"].(string); ok {
		cfg.Username = user
	}
	if password, ok := config["password"].(string); ok {
		cfg.Password = password
	}
	if owner, ok := config["owner"].(string); ok {
		cfg.Owner = owner
	}
	if timeout, ok := intValue(config["connection_timeout"]); ok {
		cfg.ConnectionTimeout = timeout
	}
	if pool, ok := intValue(config["pool_size"]); ok {
		cfg.PoolSize = pool
	}

	return cfg, nil
}

// intValue accepts JSON numbers, ints and numeric strings.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

// Validate checks that required fields are present.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.Service == "" {
		return fmt.Errorf("service is required")
	}
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	return nil
}

// ConnectionURL builds the go-ora connection URL.
func (c *Config) ConnectionURL() string {
	options := map[string]string{}
	if c.ConnectionTimeout > 0 {
		options["TIMEOUT"] = strconv.Itoa(c.ConnectionTimeout)
	}
	return go_ora.BuildUrl(c.Host, c.Port, c.Service, c.Username, c.Password, options)
}
