// Package livy is a thin client for the Apache Livy batch REST API.
//
// It covers the two calls a batch task needs: creating a batch
// (POST /batches) and reading its status (GET /batches/{id}). The client
// performs no retries and does not interpret batch states; see Classify and
// Evaluate for that.
package livy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// UnknownName is used in messages when a batch request carries no name.
const UnknownName = "unknown"

// BatchRequest is the body of POST /batches.
//
// File is the only required field. Optional scalars are pointers and optional
// collections are omitted when empty, so absent fields never reach the wire
// (neither as null nor as empty values).
type BatchRequest struct {
	File           string            `json:"file"`
	ProxyUser      *string           `json:"proxyUser,omitempty"`
	ClassName      *string           `json:"className,omitempty"`
	Args           []string          `json:"args,omitempty"`
	Jars           []string          `json:"jars,omitempty"`
	PyFiles        []string          `json:"pyFiles,omitempty"`
	Files          []string          `json:"files,omitempty"`
	DriverMemory   *string           `json:"driverMemory,omitempty"`
	DriverCores    *int              `json:"driverCores,omitempty"`
	ExecutorMemory *string           `json:"executorMemory,omitempty"`
	ExecutorCores  *int              `json:"executorCores,omitempty"`
	NumExecutors   *int              `json:"numExecutors,omitempty"`
	Archives       []string          `json:"archives,omitempty"`
	Queue          *string           `json:"queue,omitempty"`
	Name           *string           `json:"name,omitempty"`
	Conf           map[string]string `json:"conf,omitempty"`
}

// Validate checks the fields this layer enforces. Only File is required.
func (r *BatchRequest) Validate() error {
	if r == nil {
		return errors.New("batch request is nil")
	}
	if strings.TrimSpace(r.File) == "" {
		return errors.New("batch request file is required")
	}
	return nil
}

// DisplayName returns the batch name, or UnknownName when none was set.
func (r *BatchRequest) DisplayName() string {
	if r == nil || r.Name == nil || *r.Name == "" {
		return UnknownName
	}
	return *r.Name
}

// Batch is the status record returned by the batch endpoints.
//
// A Batch is a snapshot: each response produces a new value and nothing
// mutates it afterwards.
type Batch struct {
	ID      int                `json:"id"`
	State   string             `json:"state"`
	AppID   *string            `json:"appId,omitempty"`
	AppInfo map[string]*string `json:"appInfo,omitempty"`
	Log     []string           `json:"log,omitempty"`
}

// AppIDOrEmpty returns the cluster application id, or "" before the batch
// has been scheduled onto the cluster.
func (b *Batch) AppIDOrEmpty() string {
	if b == nil || b.AppID == nil {
		return ""
	}
	return *b.AppID
}

// DecodeBatch parses a status record. The id and state fields must be
// present; everything else is optional.
func DecodeBatch(data []byte) (*Batch, error) {
	var raw struct {
		ID      *int               `json:"id"`
		State   *string            `json:"state"`
		AppID   *string            `json:"appId"`
		AppInfo map[string]*string `json:"appInfo"`
		Log     []string           `json:"log"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	if raw.ID == nil {
		return nil, errors.New("decode batch: missing id")
	}
	if raw.State == nil {
		return nil, errors.New("decode batch: missing state")
	}
	return &Batch{
		ID:      *raw.ID,
		State:   *raw.State,
		AppID:   raw.AppID,
		AppInfo: raw.AppInfo,
		Log:     raw.Log,
	}, nil
}

// BatchesURL is the batch collection endpoint.
func BatchesURL(endpoint string) string {
	return strings.TrimRight(endpoint, "/") + "/batches"
}

// BatchURL is the status endpoint of a single batch.
func BatchURL(endpoint string, id int) string {
	return fmt.Sprintf("%s/%d", BatchesURL(endpoint), id)
}

// LogURL is the web UI log page of a batch. It is informational only; the
// client never fetches it.
func LogURL(endpoint string, id int) string {
	return fmt.Sprintf("%s/ui/batch/%d/log", strings.TrimRight(endpoint, "/"), id)
}
