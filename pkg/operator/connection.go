package operator

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPort           = 8998
	DefaultTimeoutSeconds = 30
)

// ConnectionConfig is the resolved Livy endpoint of a task.
type ConnectionConfig struct {
	Host     string
	Port     int
	HTTPS    bool
	Username string
	Password string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Endpoint returns scheme://[user:pass@]host:port. Credentials are included
// only when both username and password are set.
func (c ConnectionConfig) Endpoint() string {
	return c.endpointURL().String()
}

// DisplayEndpoint is Endpoint without credentials, for logs, messages and
// the log URL.
func (c ConnectionConfig) DisplayEndpoint() string {
	u := c.endpointURL()
	u.User = nil
	return u.String()
}

func (c ConnectionConfig) endpointURL() *url.URL {
	scheme := "http"
	if c.HTTPS {
		scheme = "https"
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	u := &url.URL{Scheme: scheme, Host: net.JoinHostPort(c.Host, strconv.Itoa(port))}
	if c.Username != "" && c.Password != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u
}

// SystemConfig is the system-wide config.livy.* source.
type SystemConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	HTTPS          bool   `mapstructure:"https"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	ConnectTimeout int    `mapstructure:"connect_timeout"`
	ReadTimeout    int    `mapstructure:"read_timeout"`
	WriteTimeout   int    `mapstructure:"write_timeout"`
}

func (s *SystemConfig) connection() ConnectionConfig {
	return ConnectionConfig{
		Host:           strings.TrimSpace(s.Host),
		Port:           orDefault(s.Port, DefaultPort),
		HTTPS:          s.HTTPS,
		Username:       s.Username,
		Password:       s.Password,
		ConnectTimeout: seconds(s.ConnectTimeout),
		ReadTimeout:    seconds(s.ReadTimeout),
		WriteTimeout:   seconds(s.WriteTimeout),
	}
}

// ResolveConnection picks the Livy endpoint for a task.
//
// The user source (secrets override params, password from secrets only) is
// used when it names a host. Otherwise the system source is used as a whole.
// Without a host in either source the task cannot run.
func ResolveConnection(params Params, secrets Secrets, system *SystemConfig) (ConnectionConfig, error) {
	if secrets == nil {
		secrets = NoSecrets
	}

	conn, ok, err := userConnection(params, secrets)
	if err != nil {
		return ConnectionConfig{}, err
	}
	if ok {
		return conn, nil
	}

	if system != nil && strings.TrimSpace(system.Host) != "" {
		return system.connection(), nil
	}

	return ConnectionConfig{}, &ConfigError{
		Key:     "host",
		Message: "no Livy host configured in task params, secrets or config.livy.host",
	}
}

func userConnection(params Params, secrets Secrets) (ConnectionConfig, bool, error) {
	host, ok := secrets.Secret("host")
	if !ok {
		var err error
		host, ok, err = params.String("host")
		if err != nil {
			return ConnectionConfig{}, false, err
		}
	}
	if !ok || strings.TrimSpace(host) == "" {
		return ConnectionConfig{}, false, nil
	}

	conn := ConnectionConfig{Host: strings.TrimSpace(host)}

	port, err := secretOrParamInt(secrets, params, "port", DefaultPort)
	if err != nil {
		return ConnectionConfig{}, false, err
	}
	conn.Port = port

	if v, ok := secrets.Secret("https"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return ConnectionConfig{}, false, &ConfigError{Key: "https", Message: "secret is not a boolean", Err: err}
		}
		conn.HTTPS = b
	} else if b, _, err := params.Bool("https"); err != nil {
		return ConnectionConfig{}, false, err
	} else {
		conn.HTTPS = b
	}

	if v, ok := secrets.Secret("username"); ok {
		conn.Username = v
	} else if v, _, err := params.String("username"); err != nil {
		return ConnectionConfig{}, false, err
	} else {
		conn.Username = v
	}

	// Passwords never come from params.
	if v, ok := secrets.Secret("password"); ok {
		conn.Password = v
	}

	for _, t := range []struct {
		key string
		dst *time.Duration
	}{
		{"connect_timeout", &conn.ConnectTimeout},
		{"read_timeout", &conn.ReadTimeout},
		{"write_timeout", &conn.WriteTimeout},
	} {
		n, _, err := params.Int(t.key)
		if err != nil {
			return ConnectionConfig{}, false, err
		}
		if n < 0 {
			return ConnectionConfig{}, false, &ConfigError{Key: t.key, Message: "must not be negative"}
		}
		*t.dst = seconds(n)
	}

	return conn, true, nil
}

func secretOrParamInt(secrets Secrets, params Params, key string, def int) (int, error) {
	if v, ok := secrets.Secret(key); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, &ConfigError{Key: key, Message: "secret is not an integer", Err: err}
		}
		return n, nil
	}
	n, ok, err := params.Int(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	return n, nil
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func seconds(n int) time.Duration {
	if n <= 0 {
		n = DefaultTimeoutSeconds
	}
	return time.Duration(n) * time.Second
}
