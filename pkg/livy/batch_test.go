package livy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func decodeKeys(t *testing.T, v any) map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestBatchRequest_MinimalOmitsOptionalFields(t *testing.T) {
	got := decodeKeys(t, &BatchRequest{File: "s3://bucket/job.py"})

	assert.Equal(t, map[string]any{"file": "s3://bucket/job.py"}, got)
}

func TestBatchRequest_PresentFieldsOnly(t *testing.T) {
	tests := []struct {
		name string
		req  BatchRequest
		keys []string
	}{
		{
			name: "class and args",
			req:  BatchRequest{File: "app.jar", ClassName: strPtr("com.example.Main"), Args: []string{"--day", "2024-01-01"}},
			keys: []string{"file", "className", "args"},
		},
		{
			name: "resource shape",
			req: BatchRequest{
				File:           "app.jar",
				DriverMemory:   strPtr("2g"),
				DriverCores:    intPtr(2),
				ExecutorMemory: strPtr("4g"),
				ExecutorCores:  intPtr(4),
				NumExecutors:   intPtr(10),
			},
			keys: []string{"file", "driverMemory", "driverCores", "executorMemory", "executorCores", "numExecutors"},
		},
		{
			name: "aux files and conf",
			req: BatchRequest{
				File:     "main.py",
				PyFiles:  []string{"deps.zip"},
				Jars:     []string{"a.jar"},
				Files:    []string{"lookup.csv"},
				Archives: []string{"env.tar.gz#env"},
				Conf:     map[string]string{"spark.dynamicAllocation.enabled": "false"},
			},
			keys: []string{"file", "pyFiles", "jars", "files", "archives", "conf"},
		},
		{
			name: "identity and scheduling",
			req:  BatchRequest{File: "main.py", ProxyUser: strPtr("etl"), Queue: strPtr("batch"), Name: strPtr("nightly")},
			keys: []string{"file", "proxyUser", "queue", "name"},
		},
		{
			name: "empty collections are omitted",
			req:  BatchRequest{File: "main.py", Args: []string{}, Conf: map[string]string{}},
			keys: []string{"file"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeKeys(t, &tt.req)
			assert.Len(t, got, len(tt.keys))
			for _, k := range tt.keys {
				assert.Contains(t, got, k)
				assert.NotNil(t, got[k], "key %s must not be null", k)
			}
		})
	}
}

func TestBatchRequest_ZeroValuedPointersStillSent(t *testing.T) {
	got := decodeKeys(t, &BatchRequest{File: "main.py", DriverCores: intPtr(0)})

	assert.Equal(t, float64(0), got["driverCores"])
}

func TestBatchRequest_Validate(t *testing.T) {
	assert.Error(t, (&BatchRequest{}).Validate())
	assert.Error(t, (&BatchRequest{File: "  "}).Validate())
	assert.NoError(t, (&BatchRequest{File: "main.py"}).Validate())
}

func TestBatchRequest_DisplayName(t *testing.T) {
	assert.Equal(t, UnknownName, (&BatchRequest{File: "x"}).DisplayName())
	assert.Equal(t, "nightly", (&BatchRequest{File: "x", Name: strPtr("nightly")}).DisplayName())
}

func TestDecodeBatch(t *testing.T) {
	b, err := DecodeBatch([]byte(`{
		"id": 42,
		"state": "running",
		"appId": "application_1700000000000_0042",
		"appInfo": {"driverLogUrl": null, "sparkUiUrl": "http://rm:8088/proxy/app"},
		"log": ["line 1", "line 2"]
	}`))
	require.NoError(t, err)

	assert.Equal(t, 42, b.ID)
	assert.Equal(t, "running", b.State)
	assert.Equal(t, "application_1700000000000_0042", b.AppIDOrEmpty())
	require.Contains(t, b.AppInfo, "driverLogUrl")
	assert.Nil(t, b.AppInfo["driverLogUrl"])
	require.NotNil(t, b.AppInfo["sparkUiUrl"])
	assert.Equal(t, []string{"line 1", "line 2"}, b.Log)
}

func TestDecodeBatch_AppIDAbsentBeforeScheduling(t *testing.T) {
	b, err := DecodeBatch([]byte(`{"id": 1, "state": "starting", "appId": null}`))
	require.NoError(t, err)

	assert.Nil(t, b.AppID)
	assert.Equal(t, "", b.AppIDOrEmpty())
}

func TestDecodeBatch_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>502 Bad Gateway</html>"},
		{name: "missing id", body: `{"state": "running"}`},
		{name: "missing state", body: `{"id": 3}`},
		{name: "wrong id type", body: `{"id": "three", "state": "running"}`},
		{name: "empty", body: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBatch([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestURLs(t *testing.T) {
	assert.Equal(t, "http://livy:8998/batches", BatchesURL("http://livy:8998/"))
	assert.Equal(t, "http://livy:8998/batches/42", BatchURL("http://livy:8998", 42))
	assert.Equal(t, "http://livy:8998/ui/batch/42/log", LogURL("http://livy:8998", 42))
}
