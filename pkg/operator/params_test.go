package operator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/golivy/pkg/livy"
)

func TestNewParams_NestedBlockActsAsDefaults(t *testing.T) {
	p := NewParams(map[string]any{
		"file": "top.py",
		"livy": map[string]any{
			"host": "livy.internal",
			"file": "nested.py",
		},
	})

	host, ok, err := p.String("host")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "livy.internal", host)

	file, _, _ := p.String("file")
	assert.Equal(t, "top.py", file)

	_, ok = p[NestedKey]
	assert.False(t, ok)
}

func TestParams_WeakTyping(t *testing.T) {
	p := Params{
		"driver_cores": "4",
		"https":        "true",
		"args":         "only-one",
		"port":         8999.0,
	}

	n, ok, err := p.Int("driver_cores")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, n)

	b, _, err := p.Bool("https")
	require.NoError(t, err)
	assert.True(t, b)

	args, err := p.Strings("args")
	require.NoError(t, err)
	assert.Equal(t, []string{"only-one"}, args)

	port, _, err := p.Int("port")
	require.NoError(t, err)
	assert.Equal(t, 8999, port)
}

func TestParams_InvalidValueIsConfigError(t *testing.T) {
	_, _, err := Params{"driver_cores": "many"}.Int("driver_cores")
	require.Error(t, err)
	assert.True(t, IsConfig(err))
	assert.Contains(t, err.Error(), "driver_cores")
}

func TestBuildBatchRequest(t *testing.T) {
	p := Params{
		"file":            "local:/jobs/etl.py",
		"name":            "nightly",
		"proxy_user":      "etl",
		"driver_cores":    2,
		"executor_memory": "4g",
		"num_executors":   "10",
		"py_files":        []any{"a.py", "b.py"},
		"conf":            map[string]any{"spark.yarn.maxAppAttempts": 1},
	}

	req, err := BuildBatchRequest(p)
	require.NoError(t, err)

	assert.Equal(t, "local:/jobs/etl.py", req.File)
	assert.Equal(t, "nightly", req.DisplayName())
	require.NotNil(t, req.DriverCores)
	assert.Equal(t, 2, *req.DriverCores)
	require.NotNil(t, req.NumExecutors)
	assert.Equal(t, 10, *req.NumExecutors)
	assert.Equal(t, []string{"a.py", "b.py"}, req.PyFiles)
	assert.Equal(t, map[string]string{"spark.yarn.maxAppAttempts": "1"}, req.Conf)
	assert.Nil(t, req.ClassName)
	assert.Nil(t, req.Args)
}

func TestBuildBatchRequest_RequiresFile(t *testing.T) {
	_, err := BuildBatchRequest(Params{"name": "x"})
	require.Error(t, err)
	assert.True(t, IsConfig(err))

	req, err := BuildBatchRequest(Params{"file": "f"})
	require.NoError(t, err)
	assert.Equal(t, livy.UnknownName, req.DisplayName())
}

func TestResolveConnection_UserSource(t *testing.T) {
	params := Params{
		"host":            "params-host",
		"port":            "9000",
		"username":        "params-user",
		"password":        "ignored",
		"connect_timeout": 5,
	}
	secrets := MapSecrets{"host": "secret-host", "https": "true", "password": "pw"}

	conn, err := ResolveConnection(params, secrets, &SystemConfig{Host: "system-host"})
	require.NoError(t, err)

	assert.Equal(t, "secret-host", conn.Host)
	assert.Equal(t, 9000, conn.Port)
	assert.True(t, conn.HTTPS)
	assert.Equal(t, "params-user", conn.Username)
	assert.Equal(t, "pw", conn.Password)
	assert.Equal(t, 5*time.Second, conn.ConnectTimeout)
	assert.Equal(t, 30*time.Second, conn.ReadTimeout)
	assert.Equal(t, 30*time.Second, conn.WriteTimeout)
	assert.Equal(t, "https://params-user:pw@secret-host:9000", conn.Endpoint())
}

func TestResolveConnection_PasswordOnlyFromSecrets(t *testing.T) {
	conn, err := ResolveConnection(Params{"host": "h", "username": "u", "password": "p"}, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, conn.Password)
	assert.Equal(t, "http://h:8998", conn.Endpoint())
}

func TestResolveConnection_SystemSourceUsedWholesale(t *testing.T) {
	sys := &SystemConfig{Host: "system-host", Port: 8999, Username: "svc", Password: "pw", ReadTimeout: 60}

	// User params without host do not leak into the system connection.
	conn, err := ResolveConnection(Params{"port": 1234, "connect_timeout": 1}, nil, sys)
	require.NoError(t, err)
	assert.Equal(t, "system-host", conn.Host)
	assert.Equal(t, 8999, conn.Port)
	assert.Equal(t, 30*time.Second, conn.ConnectTimeout)
	assert.Equal(t, 60*time.Second, conn.ReadTimeout)
	assert.Equal(t, "http://svc:pw@system-host:8999", conn.Endpoint())
}

func TestResolveConnection_SystemDefaults(t *testing.T) {
	conn, err := ResolveConnection(nil, nil, &SystemConfig{Host: "h"})
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, conn.Port)
	assert.False(t, conn.HTTPS)
	assert.Equal(t, 30*time.Second, conn.WriteTimeout)
}

func TestResolveConnection_NoHost(t *testing.T) {
	_, err := ResolveConnection(Params{"file": "f"}, MapSecrets{}, &SystemConfig{})
	require.Error(t, err)
	assert.True(t, IsConfig(err))
}

func TestResolveConnection_BadSecret(t *testing.T) {
	_, err := ResolveConnection(nil, MapSecrets{"host": "h", "port": "eighty"}, nil)
	assert.True(t, IsConfig(err))
}

func TestEndpoint_UserinfoRequiresBothCredentials(t *testing.T) {
	tests := []struct {
		name string
		conn ConnectionConfig
		want string
	}{
		{"none", ConnectionConfig{Host: "h", Port: 8998}, "http://h:8998"},
		{"username only", ConnectionConfig{Host: "h", Port: 8998, Username: "u"}, "http://h:8998"},
		{"password only", ConnectionConfig{Host: "h", Port: 8998, Password: "p"}, "http://h:8998"},
		{"both", ConnectionConfig{Host: "h", Port: 8998, Username: "u", Password: "p"}, "http://u:p@h:8998"},
		{"escaped", ConnectionConfig{Host: "h", Port: 443, HTTPS: true, Username: "u@corp", Password: "p:w/"}, "https://u%40corp:p%3Aw%2F@h:443"},
		{"ipv6", ConnectionConfig{Host: "::1", Port: 8998}, "http://[::1]:8998"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.conn.Endpoint())
		})
	}
}

func TestDisplayEndpoint_OmitsCredentials(t *testing.T) {
	conn := ConnectionConfig{Host: "h", Port: 8998, Username: "u", Password: "secret", HTTPS: true}
	assert.Equal(t, "https://u:secret@h:8998", conn.Endpoint())
	assert.Equal(t, "https://h:8998", conn.DisplayEndpoint())

	conn = ConnectionConfig{Host: "h", Username: "u"}
	assert.Equal(t, "http://h:8998", conn.DisplayEndpoint())
}
