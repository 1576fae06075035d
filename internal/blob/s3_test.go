package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory S3 HTTP endpoint handling the path-style object operations.
type fakeS3 struct {
	mu    sync.Mutex
	state map[string]fakeObject
}

type fakeObject struct {
	body        []byte
	contentType string
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		f.state[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type")}
		return response(http.StatusOK, nil, http.Header{"ETag": {"\"etag123\""}}), nil
	case http.MethodHead:
		obj, ok := f.state[key]
		if !ok {
			return response(http.StatusNotFound, nil, http.Header{}), nil
		}
		return response(http.StatusOK, nil, objectHeader(obj)), nil
	case http.MethodGet:
		obj, ok := f.state[key]
		if !ok {
			body := []byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return response(http.StatusNotFound, body, http.Header{"Content-Type": {"application/xml"}}), nil
		}
		return response(http.StatusOK, obj.body, objectHeader(obj)), nil
	case http.MethodDelete:
		delete(f.state, key)
		return response(http.StatusNoContent, nil, http.Header{}), nil
	}
	return response(http.StatusNotImplemented, nil, http.Header{}), nil
}

func objectHeader(obj fakeObject) http.Header {
	return http.Header{
		"Content-Length": {fmt.Sprintf("%d", len(obj.body))},
		"Content-Type":   {obj.contentType},
		"ETag":           {"\"etag123\""},
		"Last-Modified":  {time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat)},
	}
}

func response(status int, body []byte, h http.Header) *http.Response {
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(bytes.NewReader(body)), ContentLength: int64(len(body))}
}

func newFakeS3(t *testing.T) (*S3, *fakeS3) {
	t.Helper()
	fake := &fakeS3{state: make(map[string]fakeObject)}
	s, err := NewS3(context.Background(), S3Config{
		Region:          "us-east-1",
		Bucket:          "equipstat-test",
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
		HTTPClient:      &http.Client{Transport: fake},
	})
	require.NoError(t, err)
	return s, fake
}

func TestS3Store(t *testing.T) {
	s, fake := newFakeS3(t)
	assert.Equal(t, DriverS3, s.Driver())
	assert.Equal(t, "equipstat-test", s.Bucket())
	storeContract(t, s)
	assert.Empty(t, fake.state)
}

func TestS3StoreWritesObjectKey(t *testing.T) {
	s, fake := newFakeS3(t)
	_, err := s.Put(context.Background(), "uploads/u1/a.csv", strings.NewReader("hello"), PutOptions{ContentType: "text/csv"})
	require.NoError(t, err)
	obj, ok := fake.state["uploads/u1/a.csv"]
	require.True(t, ok, "keys: %v", fake.state)
	assert.Equal(t, "hello", string(obj.body))
}

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{})
	assert.Error(t, err)
}
