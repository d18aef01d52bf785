package binaries

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSourceSelection(t *testing.T) {
	tests := []struct {
		name     string
		location string
		subpath  string
		want     interface{}
	}{
		{"Local", t.TempDir(), "foo.jpg", &LocalSource{}},
		{"Zip", "zip:/data/batch.zip", "foo.jpg", &ZipSource{}},
		{"SFTP", "sftp://user@files.example.edu/batch", "foo.jpg", &SFTPSource{}},
		{"ZipOverSFTP", "zip+sftp:sftp://user@files.example.edu/batch.zip", "foo.jpg", &ZipOverSFTPSource{}},
		{"HTTP", "http://files.example.edu/batch", "foo.jpg", &HTTPSource{}},
		{"HTTPS", "https://files.example.edu/batch", "foo.jpg", &HTTPSource{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewSource(tt.location, tt.subpath)
			require.NoError(t, err)
			assert.IsType(t, tt.want, src)
		})
	}
}

func TestLocalSource(t *testing.T) {
	dir := t.TempDir()
	content := []byte("the quick brown fox")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.txt"), content, 0o644))

	src, err := NewSource(dir, "foo.txt")
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, "foo.txt", src.Name())

	exists, err := src.Exists()
	require.NoError(t, err)
	assert.True(t, exists)

	size, err := src.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)

	mt, err := src.MimeType()
	require.NoError(t, err)
	assert.Equal(t, "text/plain", mt)

	digest, err := src.Digest()
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("sha1=%x", sha1.Sum(content)), digest)

	r, err := src.Open()
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestLocalSourceMissing(t *testing.T) {
	src := NewLocalSource(filepath.Join(t.TempDir(), "nope.jpg"))

	exists, err := src.Exists()
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = src.Open()
	assert.True(t, IsNotFound(err))
}

func TestZipSource(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "batch.zip")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("pages/foo.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("page one"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(archivePath, buf.Bytes(), 0o644))

	src := NewZipSource(archivePath, "pages/foo.txt")
	defer src.Close()

	assert.Equal(t, "foo.txt", src.Name())

	exists, err := src.Exists()
	require.NoError(t, err)
	assert.True(t, exists)

	size, err := src.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(len("page one")), size)

	r, err := src.Open()
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, "page one", string(got))

	missing := NewZipSource(archivePath, "pages/bar.txt")
	defer missing.Close()
	exists, err = missing.Exists()
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = missing.Open()
	assert.True(t, IsNotFound(err))
}

func TestHTTPSource(t *testing.T) {
	content := []byte("remote bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/batch/foo.bin":
			w.Header().Set("Content-Type", "image/tiff")
			w.Header().Set("Content-Length", fmt.Sprint(len(content)))
			if r.Method == http.MethodGet {
				w.Write(content)
			}
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	src, err := NewSource(server.URL+"/batch", "foo.bin")
	require.NoError(t, err)
	defer src.Close()

	exists, err := src.Exists()
	require.NoError(t, err)
	assert.True(t, exists)

	mt, err := src.MimeType()
	require.NoError(t, err)
	assert.Equal(t, "image/tiff", mt)

	size, err := src.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)

	digest, err := src.Digest()
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("sha1=%x", sha1.Sum(content)), digest)

	missing := NewHTTPSource(server.URL + "/batch/nope.bin")
	exists, err = missing.Exists()
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = missing.Open()
	assert.True(t, IsNotFound(err))
}

// fakeS3 serves objects from a map, enough for GetObject/HeadObject.
type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &NotFoundError{Location: aws.ToString(params.Key)}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &NotFoundError{Location: aws.ToString(params.Key)}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/pdf"),
	}, nil
}

func TestS3Source(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{"batch/baz.pdf": []byte("pdf bytes")}}
	src := NewS3SourceWithClient("ingest", "batch/baz.pdf", fake)
	defer src.Close()

	assert.Equal(t, "baz.pdf", src.Name())

	exists, err := src.Exists()
	require.NoError(t, err)
	assert.True(t, exists)

	mt, err := src.MimeType()
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", mt)

	size, err := src.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(len("pdf bytes")), size)

	digest, err := src.Digest()
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("sha1=%x", sha1.Sum([]byte("pdf bytes"))), digest)
}

func TestSFTPSourceURLParsing(t *testing.T) {
	src, err := NewSFTPSource("sftp://alice@files.example.edu/data/batch/foo.jpg", SSHOptions{Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "files.example.edu:22", src.host)
	assert.Equal(t, "alice", src.user)
	assert.Equal(t, "/data/batch/foo.jpg", src.path)
	assert.Equal(t, "foo.jpg", src.Name())

	_, err = NewSFTPSource("sftp://files.example.edu/no-user", SSHOptions{})
	assert.Error(t, err)

	_, err = NewSFTPSource("http://x/y", SSHOptions{})
	assert.Error(t, err)
}
