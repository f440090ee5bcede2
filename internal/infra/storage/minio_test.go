package storage

import (
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 accepts bucket checks, bucket creation and object uploads.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	configs map[string]string
	objects map[string]string
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.Trim(r.URL.Path, "/"), "/", 2)
	bucket := parts[0]
	switch {
	case r.URL.Query().Has("location"):
		w.Header().Set("Content-Type", "application/xml")
		xml.NewEncoder(w).Encode(struct {
			XMLName xml.Name `xml:"LocationConstraint"`
			Value   string   `xml:",chardata"`
		}{Value: "us-east-1"})
	case len(parts) == 1 && r.Method == http.MethodHead:
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
		}
	case len(parts) == 1 && r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.buckets[bucket] = true
		f.configs[bucket] = string(body)
	case len(parts) == 2 && r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = string(body)
		f.types[r.URL.Path] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		buckets: map[string]bool{},
		configs: map[string]string{},
		objects: map[string]string{},
		types:   map[string]string{},
	}
}

func TestPutCreatesBucketAndUploads(t *testing.T) {
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	s, err := New(t.Context(), host, "us-east-1", "replies", "minio", "minio123", false)
	require.NoError(t, err)
	assert.True(t, fake.buckets["replies"])

	url, err := s.Put(t.Context(), "replies/abc/20250101T000000.000000Z.txt", []byte(`{"summary":"x"}`), "text/plain; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/replies/replies/abc/20250101T000000.000000Z.txt", url)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	// the body may arrive aws-chunked, so only check that it was stored
	assert.Contains(t, fake.objects["/replies/replies/abc/20250101T000000.000000Z.txt"], `{"summary":"x"}`)
	assert.Equal(t, "text/plain; charset=utf-8", fake.types["/replies/replies/abc/20250101T000000.000000Z.txt"])
}

func TestObjectURL(t *testing.T) {
	assert.Equal(t, "https://s3.local:9000/b/k/v.txt", objectURL("https", "s3.local:9000", "b", "k/v.txt"))
}

func TestNewCreatesBucketInRegion(t *testing.T) {
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := New(t.Context(), strings.TrimPrefix(srv.URL, "http://"), "eu-west-1", "replies", "minio", "minio123", false)
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.True(t, fake.buckets["replies"])
	assert.Contains(t, fake.configs["replies"], "<LocationConstraint>eu-west-1</LocationConstraint>")
}
