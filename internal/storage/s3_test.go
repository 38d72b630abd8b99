package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testS3Config(endpoint string) S3Config {
	return S3Config{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	}
}

func TestNewS3Mirror(t *testing.T) {
	m, err := NewS3Mirror(context.Background(), testS3Config("http://localhost:4566"))
	require.NoError(t, err)
	assert.Equal(t, "test-bucket", m.bucket)
	assert.Equal(t, "us-east-1", m.region)
}

func TestNewS3Mirror_RequiresBucket(t *testing.T) {
	_, err := NewS3Mirror(context.Background(), S3Config{Region: "us-east-1"})
	assert.ErrorIs(t, err, ErrS3NotConfigured)
}

func TestS3Mirror_URL(t *testing.T) {
	m := &S3Mirror{bucket: "b", region: "eu-west-1"}
	assert.Equal(t, "https://b.s3.eu-west-1.amazonaws.com/post-1.png", m.URL("post-1.png"))

	m.endpoint = "http://minio:9000"
	assert.Equal(t, "http://minio:9000/b/post-1.png", m.URL("post-1.png"))
}

// fakeS3 records the requests it receives.
type fakeS3 struct {
	mu       sync.Mutex
	requests []string
	bodies   map[string]string
}

func (f *fakeS3) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		switch r.Method {
		case http.MethodPut:
			body, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			if f.bodies == nil {
				f.bodies = make(map[string]string)
			}
			f.bodies[r.URL.Path] = string(body)
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func (f *fakeS3) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func TestS3Mirror_UploadAndDelete(t *testing.T) {
	fake := &fakeS3{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	m, err := NewS3Mirror(context.Background(), testS3Config(server.URL))
	require.NoError(t, err)

	ctx := context.Background()
	url, err := m.Upload(ctx, "post-1.png", "image/png", bytes.NewReader([]byte("test content")))
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/test-bucket/post-1.png", url)

	require.NoError(t, m.Delete(ctx, "post-1.png"))

	assert.Equal(t, []string{
		"PUT /test-bucket/post-1.png",
		"DELETE /test-bucket/post-1.png",
	}, fake.seen())
	assert.Equal(t, "test content", fake.bodies["/test-bucket/post-1.png"])
}

func TestS3Mirror_UploadError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	m, err := NewS3Mirror(context.Background(), testS3Config(server.URL))
	require.NoError(t, err)

	_, err = m.Upload(context.Background(), "post-1.png", "image/png", bytes.NewReader([]byte("x")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload to S3")
}
