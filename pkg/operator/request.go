package operator

import (
	"strings"

	"github.com/3leaps/golivy/pkg/livy"
)

// BuildBatchRequest maps task params onto a Livy batch request. Only file is
// required; absent params stay absent on the wire.
func BuildBatchRequest(params Params) (*livy.BatchRequest, error) {
	file, ok, err := params.String("file")
	if err != nil {
		return nil, err
	}
	if !ok || strings.TrimSpace(file) == "" {
		return nil, &ConfigError{Key: "file", Message: "is required"}
	}

	req := &livy.BatchRequest{File: file}

	for _, f := range []struct {
		key string
		dst **string
	}{
		{"proxy_user", &req.ProxyUser},
		{"class_name", &req.ClassName},
		{"driver_memory", &req.DriverMemory},
		{"executor_memory", &req.ExecutorMemory},
		{"queue", &req.Queue},
		{"name", &req.Name},
	} {
		v, ok, err := params.String(f.key)
		if err != nil {
			return nil, err
		}
		if ok {
			*f.dst = &v
		}
	}

	for _, f := range []struct {
		key string
		dst **int
	}{
		{"driver_cores", &req.DriverCores},
		{"executor_cores", &req.ExecutorCores},
		{"num_executors", &req.NumExecutors},
	} {
		v, ok, err := params.Int(f.key)
		if err != nil {
			return nil, err
		}
		if ok {
			*f.dst = &v
		}
	}

	for _, f := range []struct {
		key string
		dst *[]string
	}{
		{"args", &req.Args},
		{"jars", &req.Jars},
		{"py_files", &req.PyFiles},
		{"files", &req.Files},
		{"archives", &req.Archives},
	} {
		v, err := params.Strings(f.key)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}

	conf, err := params.StringMap("conf")
	if err != nil {
		return nil, err
	}
	req.Conf = conf

	return req, nil
}
