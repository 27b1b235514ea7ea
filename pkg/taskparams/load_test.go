package taskparams

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAMLWithNestedDefaults(t *testing.T) {
	path := writeFile(t, "params.yaml", `
livy:
  host: livy.internal
  port: "8999"
  name: from-block
file: local:/jobs/etl.py
name: nightly
driver_cores: 4
args: [--date, "2026-03-01"]
conf:
  spark.executor.memoryOverhead: 512
`)

	p, err := Load(path)
	require.NoError(t, err)

	host, ok, err := p.String("host")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "livy.internal", host)

	port, _, err := p.Int("port")
	require.NoError(t, err)
	assert.Equal(t, 8999, port)

	name, _, err := p.String("name")
	require.NoError(t, err)
	assert.Equal(t, "nightly", name)

	args, err := p.Strings("args")
	require.NoError(t, err)
	assert.Equal(t, []string{"--date", "2026-03-01"}, args)

	conf, err := p.StringMap("conf")
	require.NoError(t, err)
	assert.Equal(t, "512", conf["spark.executor.memoryOverhead"])
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "params.json", `{"host": "livy", "file": "s3://jobs/app.jar", "class_name": "com.example.Main"}`)

	p, err := Load(path)
	require.NoError(t, err)
	cls, ok, err := p.String("class_name")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "com.example.Main", cls)
}

func TestLoad_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "port not a number", content: "host: livy\nport: eighty\n"},
		{name: "nested port not a number", content: "livy:\n  port: [1]\n"},
		{name: "conf not a map", content: "conf: [a, b]\n"},
		{name: "https not a bool", content: "https: maybe\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.content), "params.yaml")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidationFailed))

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			assert.NotEmpty(t, verrs)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "params file not found")

	_, err = LoadFromBytes([]byte("   \n"), "params.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")

	_, err = LoadFromBytes([]byte("{not json"), "params.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")

	_, err = LoadFromBytes([]byte("- a\n- b\n"), "params.yaml")
	require.Error(t, err)
}

func TestLoadSecrets(t *testing.T) {
	path := writeFile(t, "secrets.yaml", "password: from-file\nusername: alice\nport: 9000\n")

	s, err := LoadSecrets(path, []string{
		"GOLIVY_SECRET_PASSWORD=from-env",
		"GOLIVY_SECRET_=ignored",
		"HOME=/root",
	})
	require.NoError(t, err)

	pw, ok := s.Secret("password")
	assert.True(t, ok)
	assert.Equal(t, "from-env", pw)

	user, _ := s.Secret("username")
	assert.Equal(t, "alice", user)

	port, _ := s.Secret("port")
	assert.Equal(t, "9000", port)

	assert.Equal(t, []string{"password", "port", "username"}, Keys(s))
}

func TestLoadSecrets_EnvOnly(t *testing.T) {
	s, err := LoadSecrets("", []string{"GOLIVY_SECRET_HOST=livy.internal"})
	require.NoError(t, err)
	host, ok := s.Secret("host")
	assert.True(t, ok)
	assert.Equal(t, "livy.internal", host)
}

func TestLoadSecrets_RejectsNestedValues(t *testing.T) {
	path := writeFile(t, "secrets.yaml", "livy:\n  password: x\n")
	_, err := LoadSecrets(path, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed))
}
