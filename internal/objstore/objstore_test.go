package objstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// fakeS3 serves a minimal path-style S3 surface: GET/DELETE object and
// HEAD bucket.
type fakeS3 struct {
	objects map[string][]byte
	deleted []string
	server  *httptest.Server
}

func newFakeS3(t *testing.T) *fakeS3 {
	t.Helper()
	f := &fakeS3{objects: map[string][]byte{}}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Path-style: /{bucket}/{key...}
		key := strings.TrimPrefix(r.URL.Path, "/uploads/")
		switch {
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet:
			body, ok := f.objects[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`<Error><Code>NoSuchKey</Code></Error>`))
				return
			}
			_, _ = w.Write(body)
		case r.Method == http.MethodDelete:
			f.deleted = append(f.deleted, key)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func newTestClient(t *testing.T, f *fakeS3) *Client {
	t.Helper()
	c, err := New(context.Background(), Config{
		Endpoint:     f.server.URL,
		Region:       "us-east-1",
		Bucket:       "uploads",
		AccessKey:    "test",
		SecretKey:    "test",
		UsePathStyle: true,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestDownload_WritesObjectToStagingDir(t *testing.T) {
	// Given an object in the bucket
	f := newFakeS3(t)
	f.objects["incoming/q4.pdf"] = []byte("pdf bytes")
	c := newTestClient(t, f)
	dest := t.TempDir()

	// When downloaded
	path, err := c.Download(context.Background(), "incoming/q4.pdf", dest)
	require.NoError(t, err)

	// Then the local copy is named by the key's basename
	assert.Equal(t, filepath.Join(dest, "q4.pdf"), path)
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(body))

	// And no temp files linger
	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDownload_MissingObjectIsNotFound(t *testing.T) {
	f := newFakeS3(t)
	c := newTestClient(t, f)

	_, err := c.Download(context.Background(), "ghost.pdf", t.TempDir())

	assert.Equal(t, amerrors.ErrCodeFileNotFound, amerrors.GetCode(err))
}

func TestDelete_RemovesObjectAndToleratesMissing(t *testing.T) {
	f := newFakeS3(t)
	f.objects["incoming/q4.pdf"] = []byte("x")
	c := newTestClient(t, f)

	require.NoError(t, c.Delete(context.Background(), "incoming/q4.pdf"))
	assert.Equal(t, []string{"incoming/q4.pdf"}, f.deleted)

	// Deleting an absent key is a no-op
	require.NoError(t, c.Delete(context.Background(), "never-existed.pdf"))
}

func TestPresignPut_ProducesBoundedURL(t *testing.T) {
	f := newFakeS3(t)
	c := newTestClient(t, f)

	url, err := c.PresignPut(context.Background(), "incoming/q4.pdf", "application/pdf")
	require.NoError(t, err)

	assert.Contains(t, url, "/uploads/incoming/q4.pdf")
	assert.Contains(t, url, "X-Amz-Signature=")
	assert.Contains(t, url, "X-Amz-Expires=")
}

func TestPresignGet_ProducesSignedURL(t *testing.T) {
	f := newFakeS3(t)
	c := newTestClient(t, f)

	url, err := c.PresignGet(context.Background(), "incoming/q4.pdf")
	require.NoError(t, err)

	assert.Contains(t, url, "X-Amz-Signature=")
}

func TestHealthCheck_ReportsUnreachableBucket(t *testing.T) {
	f := newFakeS3(t)
	c := newTestClient(t, f)
	require.NoError(t, c.HealthCheck(context.Background()))

	f.server.Close()
	err := c.HealthCheck(context.Background())
	assert.Equal(t, amerrors.ErrCodeObjectStoreUnavailable, amerrors.GetCode(err))
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{}, nil)

	assert.Equal(t, amerrors.ErrCodeConfigInvalid, amerrors.GetCode(err))
}

func TestNew_DefaultsExpiry(t *testing.T) {
	f := newFakeS3(t)
	c := newTestClient(t, f)

	assert.Equal(t, DefaultPresignExpiry, c.expiry)
	assert.Equal(t, "uploads", c.Bucket())
}
