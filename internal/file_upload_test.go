package internal

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termpost/internal/model"
)

func multipartUpload(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = io.Copy(part, bytes.NewReader(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func jsonDecode(r io.Reader, out any) error {
	return json.NewDecoder(r).Decode(out)
}

func postUpload(t *testing.T, ts *testServer, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	ts.server.uploads.HandleUpload(rec, req)
	return rec
}

func TestFileUploadHandler(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	ts.channel(t, model.Channel{ID: "c1"})
	content := []byte("Hello, this is a test file!")

	body, contentType := multipartUpload(t, map[string]string{"channel_id": "c1", "user_id": "u1", "client_id": "up1"}, "test.txt", content)
	rec := postUpload(t, ts, body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp UploadResponse
	require.NoError(t, jsonDecode(rec.Body, &resp))
	require.Len(t, resp.FileInfos, 1)
	assert.Equal(t, []string{"up1"}, resp.ClientIDs)
	info := resp.FileInfos[0]
	assert.Equal(t, "test.txt", info.Name)
	assert.Equal(t, "txt", info.Extension)
	assert.Equal(t, int64(len(content)), info.Size)
	assert.NotEmpty(t, info.MimeType)

	stored, err := ts.store.GetFile(context.Background(), info.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", stored.UploadedBy)
	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), stored.SHA256)

	onDisk, err := os.ReadFile(filepath.Join(ts.server.uploads.uploadDir, stored.StoragePath))
	require.NoError(t, err)
	assert.Equal(t, content, onDisk)

	// posts referencing the file carry its metadata
	resp2 := ts.do(t, http.MethodPost, "/api/posts", model.Post{ChannelID: "c1", UserID: "u1", FileIDs: []string{info.ID}})
	require.Equal(t, http.StatusCreated, resp2.StatusCode)
	post := decodeBody[model.Post](t, resp2)
	require.NotNil(t, post.Metadata)
	require.Len(t, post.Metadata.Files, 1)
	assert.Equal(t, "test.txt", post.Metadata.Files[0].Name)
}

func TestFileUploadImageDimensions(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	ts.channel(t, model.Channel{ID: "c1"})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 3, 2))))
	body, contentType := multipartUpload(t, map[string]string{"channel_id": "c1"}, "dot.png", buf.Bytes())
	rec := postUpload(t, ts, body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp UploadResponse
	require.NoError(t, jsonDecode(rec.Body, &resp))
	info := resp.FileInfos[0]
	assert.Equal(t, "image/png", info.MimeType)
	assert.Equal(t, 3, info.Width)
	assert.Equal(t, 2, info.Height)
	require.Len(t, resp.ClientIDs, 1)
	assert.NotEmpty(t, resp.ClientIDs[0])
}

func TestFileUploadRejects(t *testing.T) {
	ts := newTestServer(t, ServerOptions{MaxFileSize: 16})
	ts.channel(t, model.Channel{ID: "c1"})

	tests := []struct {
		name     string
		fields   map[string]string
		filename string
		content  []byte
		want     int
	}{
		{"missing channel", map[string]string{}, "a.txt", []byte("x"), http.StatusBadRequest},
		{"unknown channel", map[string]string{"channel_id": "nope"}, "a.txt", []byte("x"), http.StatusNotFound},
		{"no file", map[string]string{"channel_id": "c1"}, "", nil, http.StatusBadRequest},
		{"too large", map[string]string{"channel_id": "c1"}, "big.bin", bytes.Repeat([]byte("x"), 64), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartUpload(t, tt.fields, tt.filename, tt.content)
			rec := postUpload(t, ts, body, contentType)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestFileDownload(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	ts.channel(t, model.Channel{ID: "c1"})
	content := []byte("download me")
	body, contentType := multipartUpload(t, map[string]string{"channel_id": "c1"}, "notes.md", content)
	rec := postUpload(t, ts, body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp UploadResponse
	require.NoError(t, jsonDecode(rec.Body, &resp))

	got := ts.do(t, http.MethodGet, "/api/files/"+resp.FileInfos[0].ID, nil)
	require.Equal(t, http.StatusOK, got.StatusCode)
	assert.Contains(t, got.Header.Get("Content-Disposition"), "notes.md")
	data, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	missing := ts.do(t, http.MethodGet, "/api/files/nope", nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestSanitizePathComponent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"room", "room"},
		{"../etc", ".._etc"},
		{"a/b\\c", "a_b_c"},
		{"nul\x00l", "null"},
		{"  ", "unnamed"},
		{"..", "unnamed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizePathComponent(tt.in), "input %q", tt.in)
	}
}
