package taskstate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAPIError struct {
	code string
}

func (e *mockAPIError) Error() string                 { return fmt.Sprintf("%s: api error", e.code) }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return "api error" }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

var _ smithy.APIError = (*mockAPIError)(nil)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3Backend_ObjectLayout(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	b := newS3Backend(api, "state-bucket", "/golivy/tasks/")

	s, err := b.Task("task-1")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "start.result", []byte(`{"id":42}`)))

	assert.Contains(t, api.objects, "state-bucket/golivy/tasks/task-1/start.result")

	v, found, err := s.Get(ctx, "start.result")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"id":42}`, string(v))
}

func TestS3Backend_NoPrefix(t *testing.T) {
	api := newFakeS3()
	s, err := newS3Backend(api, "b", "").Task("task-1")
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "k", []byte("v")))
	assert.Contains(t, api.objects, "b/task-1/k")
}

func TestS3Store_MissingKeyIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "typed NoSuchKey", err: &types.NoSuchKey{}},
		{name: "typed NotFound", err: &types.NotFound{}},
		{name: "api code NoSuchKey", err: &mockAPIError{code: "NoSuchKey"}},
		{name: "wrapped api code NotFound", err: fmt.Errorf("op: %w", &mockAPIError{code: "NotFound"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeS3()
			api.getErr = tt.err
			s, err := newS3Backend(api, "b", "p").Task("task-1")
			require.NoError(t, err)

			_, found, err := s.Get(context.Background(), "k")
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestS3Store_OtherErrorsPropagate(t *testing.T) {
	api := newFakeS3()
	api.getErr = &mockAPIError{code: "AccessDenied"}
	s, err := newS3Backend(api, "b", "p").Task("task-1")
	require.NoError(t, err)

	_, _, err = s.Get(context.Background(), "k")
	require.Error(t, err)
	var apiErr smithy.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Contains(t, err.Error(), "s3://b/p/task-1/k")
}

func TestS3Config_Validate(t *testing.T) {
	assert.Error(t, (&S3Config{}).Validate())
	assert.Error(t, (&S3Config{Bucket: "b", AccessKeyID: "id"}).Validate())
	assert.NoError(t, (&S3Config{Bucket: "b"}).Validate())
	assert.NoError(t, (&S3Config{Bucket: "b", AccessKeyID: "id", SecretAccessKey: "secret"}).Validate())
}
