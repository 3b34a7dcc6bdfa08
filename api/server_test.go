package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nicolagi/imgdrop/api"
	"github.com/nicolagi/imgdrop/metadata"
	"github.com/nicolagi/imgdrop/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	handler  http.Handler
	metadata metadata.Store
	blobs    *storage.InMemoryStore
}

func newFixture(t *testing.T, opts ...api.Option) *fixture {
	meta, err := metadata.NewSQLiteStore(filepath.Join(t.TempDir(), "uploads.db"))
	require.Nil(t, err)
	t.Cleanup(func() {
		assert.Nil(t, meta.Close())
	})
	f := &fixture{
		metadata: meta,
		blobs:    storage.NewInMemoryStore(),
	}
	opts = append([]api.Option{api.WithMetadata(f.metadata), api.WithBlobs(f.blobs)}, opts...)
	f.handler = api.New(opts...).Handler()
	return f
}

func (f *fixture) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	return f.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (f *fixture) upload(t *testing.T, filename, contentType string, content []byte) *httptest.ResponseRecorder {
	return f.do(uploadRequest(t, filename, contentType, content))
}

func (f *fixture) mustUpload(t *testing.T, filename, contentType string, content []byte) api.UploadResponse {
	w := f.upload(t, filename, contentType, content)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var keys api.UploadResponse
	require.Nil(t, json.Unmarshal(w.Body.Bytes(), &keys))
	return keys
}

func uploadRequest(t *testing.T, filename, contentType string, content []byte) *http.Request {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	require.Nil(t, err)
	_, err = part.Write(content)
	require.Nil(t, err)
	require.Nil(t, mw.Close())
	r := httptest.NewRequest(http.MethodPost, "/upload", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	var body struct {
		Error string `json:"error"`
	}
	require.Nil(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Error
}

var png = []byte{0x89, 'P', 'N', 'G', 0x0d}

func TestDescriptor(t *testing.T) {
	t.Run("uses the configured public URL", func(t *testing.T) {
		f := newFixture(t, api.WithPublicURL("https://i.example.org/"))
		w := f.get("/")
		require.Equal(t, http.StatusOK, w.Code)
		var d api.Descriptor
		require.Nil(t, json.Unmarshal(w.Body.Bytes(), &d))
		assert.Equal(t, "POST", d.RequestMethod)
		assert.Equal(t, "https://i.example.org/upload", d.RequestURL)
		assert.Equal(t, "file", d.FileFormName)
		assert.Equal(t, "MultipartFormData", d.Body)
		assert.Equal(t, "https://i.example.org/{json:lookupKey}", d.URL)
		assert.Equal(t, "https://i.example.org/delete/{json:deletionKey}", d.DeletionURL)
	})
	t.Run("derives the base URL from the request", func(t *testing.T) {
		f := newFixture(t)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Host = "img.local:3000"
		w := f.do(r)
		require.Equal(t, http.StatusOK, w.Code)
		var d api.Descriptor
		require.Nil(t, json.Unmarshal(w.Body.Bytes(), &d))
		assert.Equal(t, "http://img.local:3000/upload", d.RequestURL)
	})
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t)

	keys := f.mustUpload(t, "a.png", "image/png", png)
	assert.NotEmpty(t, keys.LookupKey)
	assert.NotEmpty(t, keys.DeletionKey)
	assert.NotEqual(t, keys.LookupKey, keys.DeletionKey)

	w := f.get("/" + keys.LookupKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, png, w.Body.Bytes())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "inline")
	assert.Contains(t, w.Header().Get("Content-Disposition"), keys.LookupKey+".png")

	w = f.get("/delete/" + keys.DeletionKey)
	require.Equal(t, http.StatusOK, w.Code)
	var msg api.MessageResponse
	require.Nil(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.NotEmpty(t, msg.Message)

	assert.Equal(t, http.StatusNotFound, f.get("/"+keys.LookupKey).Code)
	assert.Equal(t, http.StatusNotFound, f.get("/delete/"+keys.DeletionKey).Code)
	ok, err := f.blobs.Exists(context.Background(), keys.LookupKey+".png")
	require.Nil(t, err)
	assert.False(t, ok)
	_, err = f.metadata.FindByLookupKey(context.Background(), keys.LookupKey)
	assert.True(t, errors.Is(err, metadata.ErrNotFound))
}

func TestUploadKeysAreUnique(t *testing.T) {
	f := newFixture(t)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		keys := f.mustUpload(t, fmt.Sprintf("%d.gif", i), "image/gif", []byte("GIF89a"))
		for _, k := range []string{keys.LookupKey, keys.DeletionKey} {
			require.False(t, seen[k], "key %q issued twice", k)
			seen[k] = true
		}
	}
}

func TestRoundTripKeepsBytesAndType(t *testing.T) {
	testCases := []struct {
		filename    string
		contentType string
		wantType    string
	}{
		{"photo.jpg", "image/jpeg", "image/jpg"},
		{"photo.JPEG", "image/jpeg", "image/jpeg"},
		{"anim.gif", "image/gif", "image/gif"},
		{"no-extension", "image/png", "image/png"},
		{"no-extension", "image/jpg", "image/jpg"},
		{"weird.p n g", "image/gif", "image/gif"},
	}
	f := newFixture(t)
	for _, tc := range testCases {
		t.Run(tc.filename+" as "+tc.contentType, func(t *testing.T) {
			content := []byte("content of " + tc.filename)
			keys := f.mustUpload(t, tc.filename, tc.contentType, content)
			w := f.get("/" + keys.LookupKey)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, content, w.Body.Bytes())
			assert.Equal(t, tc.wantType, w.Header().Get("Content-Type"))
		})
	}
}

func TestUnknownKeys(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		w := f.get("/V1StGXR8_Z5jdHi6B-myT")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NotEmpty(t, errorMessage(t, w))
		w = f.get("/delete/V1StGXR8_Z5jdHi6B-myT")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NotEmpty(t, errorMessage(t, w))
	}
	t.Run("keys that could never have been issued", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, f.get("/favicon.ico").Code)
		assert.Equal(t, http.StatusNotFound, f.get("/delete/..%2f..%2fetc").Code)
	})
	t.Run("blank keys are invalid input", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, f.get("/%20").Code)
		assert.Equal(t, http.StatusBadRequest, f.get("/delete/%20").Code)
	})
}

func TestDeleteTwice(t *testing.T) {
	f := newFixture(t)
	keys := f.mustUpload(t, "a.png", "image/png", png)
	assert.Equal(t, http.StatusOK, f.get("/delete/"+keys.DeletionKey).Code)
	assert.Equal(t, http.StatusNotFound, f.get("/delete/"+keys.DeletionKey).Code)
}

func TestLookupKeyDoesNotDelete(t *testing.T) {
	f := newFixture(t)
	keys := f.mustUpload(t, "a.png", "image/png", png)
	assert.Equal(t, http.StatusNotFound, f.get("/delete/"+keys.LookupKey).Code)
	assert.Equal(t, http.StatusOK, f.get("/"+keys.LookupKey).Code)
}

func TestUploadValidation(t *testing.T) {
	f := newFixture(t)
	t.Run("exactly the maximum size is accepted", func(t *testing.T) {
		f.mustUpload(t, "big.png", "image/png", make([]byte, api.MaxFileSize))
	})
	t.Run("one byte over the maximum is rejected", func(t *testing.T) {
		w := f.upload(t, "big.png", "image/png", make([]byte, api.MaxFileSize+1))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, errorMessage(t, w), "too large")
	})
	t.Run("way over the maximum is rejected", func(t *testing.T) {
		w := f.upload(t, "huge.png", "image/png", make([]byte, 3*api.MaxFileSize))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, errorMessage(t, w), "too large")
	})
	t.Run("empty file is rejected", func(t *testing.T) {
		w := f.upload(t, "empty.png", "image/png", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "empty file", errorMessage(t, w))
	})
	t.Run("types outside the allow-list are rejected", func(t *testing.T) {
		for _, ct := range []string{"image/webp", "application/octet-stream", "text/plain", ""} {
			w := f.upload(t, "a.webp", ct, []byte("RIFF"))
			assert.Equal(t, http.StatusBadRequest, w.Code, ct)
			assert.Equal(t, "unsupported file type, accepted types: png, jpg, jpeg, gif", errorMessage(t, w))
		}
	})
	t.Run("missing file field", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		require.Nil(t, mw.WriteField("other", "value"))
		require.Nil(t, mw.Close())
		r := httptest.NewRequest(http.MethodPost, "/upload", &body)
		r.Header.Set("Content-Type", mw.FormDataContentType())
		w := f.do(r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, errorMessage(t, w), "file")
	})
	t.Run("not a multipart request", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(png))
		r.Header.Set("Content-Type", "image/png")
		w := f.do(r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("nothing is stored for rejected uploads", func(t *testing.T) {
		f := newFixture(t)
		_ = f.upload(t, "a.webp", "image/webp", []byte("RIFF"))
		_ = f.upload(t, "a.png", "image/png", nil)
		records, err := f.metadata.List(context.Background())
		require.Nil(t, err)
		assert.Empty(t, records)
		names, err := f.blobs.List(context.Background())
		require.Nil(t, err)
		assert.Empty(t, names)
	})
}

func TestCORS(t *testing.T) {
	f := newFixture(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://elsewhere.example.com")
	w := f.do(r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

// failingMetadata fails the operations it has errors for and delegates the
// rest.
type failingMetadata struct {
	metadata.Store
	insertErr error
	findErr   error
	deleteErr error
}

func (m *failingMetadata) Insert(ctx context.Context, r metadata.Record) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	return m.Store.Insert(ctx, r)
}

func (m *failingMetadata) FindByLookupKey(ctx context.Context, key string) (metadata.Record, error) {
	if m.findErr != nil {
		return metadata.Record{}, m.findErr
	}
	return m.Store.FindByLookupKey(ctx, key)
}

func (m *failingMetadata) DeleteByDeletionKey(ctx context.Context, key string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	return m.Store.DeleteByDeletionKey(ctx, key)
}

type failingBlobs struct {
	storage.BlobStore
	putErr    error
	deleteErr error
}

func (b *failingBlobs) Put(ctx context.Context, name string, r io.Reader) error {
	if b.putErr != nil {
		return b.putErr
	}
	return b.BlobStore.Put(ctx, name, r)
}

func (b *failingBlobs) Delete(ctx context.Context, name string) error {
	if b.deleteErr != nil {
		return b.deleteErr
	}
	return b.BlobStore.Delete(ctx, name)
}

func TestStoreFailures(t *testing.T) {
	boom := errors.New("boom")
	ctx := context.Background()

	t.Run("insert failure writes no blob", func(t *testing.T) {
		f := newFixture(t)
		meta := &failingMetadata{Store: f.metadata, insertErr: boom}
		handler := api.New(api.WithMetadata(meta), api.WithBlobs(f.blobs)).Handler()
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, uploadRequest(t, "a.png", "image/png", png))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, errorMessage(t, w), "boom")
		names, err := f.blobs.List(ctx)
		require.Nil(t, err)
		assert.Empty(t, names)
	})
	t.Run("blob write failure leaves no record", func(t *testing.T) {
		f := newFixture(t)
		blobs := &failingBlobs{BlobStore: f.blobs, putErr: boom}
		handler := api.New(api.WithMetadata(f.metadata), api.WithBlobs(blobs)).Handler()
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, uploadRequest(t, "a.png", "image/png", png))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		records, err := f.metadata.List(ctx)
		require.Nil(t, err)
		assert.Empty(t, records)
	})
	t.Run("key collision is a store error", func(t *testing.T) {
		var n int
		fixed := func() (string, error) {
			n++
			return fmt.Sprintf("key%d", n%2), nil
		}
		f := newFixture(t, api.WithKeyGenerator(fixed))
		first := f.mustUpload(t, "a.png", "image/png", png)
		w := f.upload(t, "b.png", "image/png", []byte("other"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		got := f.get("/" + first.LookupKey)
		require.Equal(t, http.StatusOK, got.Code)
		assert.Equal(t, png, got.Body.Bytes())
	})
	t.Run("lookup failure on retrieve", func(t *testing.T) {
		f := newFixture(t)
		keys := f.mustUpload(t, "a.png", "image/png", png)
		meta := &failingMetadata{Store: f.metadata, findErr: boom}
		handler := api.New(api.WithMetadata(meta), api.WithBlobs(f.blobs)).Handler()
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/"+keys.LookupKey, nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
	t.Run("blob removal failure keeps the record", func(t *testing.T) {
		f := newFixture(t)
		keys := f.mustUpload(t, "a.png", "image/png", png)
		blobs := &failingBlobs{BlobStore: f.blobs, deleteErr: boom}
		handler := api.New(api.WithMetadata(f.metadata), api.WithBlobs(blobs)).Handler()
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/delete/"+keys.DeletionKey, nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, http.StatusOK, f.get("/"+keys.LookupKey).Code)
	})
	t.Run("record removal failure after blob removal", func(t *testing.T) {
		f := newFixture(t)
		keys := f.mustUpload(t, "a.png", "image/png", png)
		meta := &failingMetadata{Store: f.metadata, deleteErr: boom}
		handler := api.New(api.WithMetadata(meta), api.WithBlobs(f.blobs)).Handler()
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/delete/"+keys.DeletionKey, nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		// The dangling record is surfaced as not found.
		assert.Equal(t, http.StatusNotFound, f.get("/"+keys.LookupKey).Code)
		assert.Equal(t, http.StatusNotFound, f.get("/delete/"+keys.DeletionKey).Code)
	})
}

func TestRecordWithoutBlob(t *testing.T) {
	f := newFixture(t)
	keys := f.mustUpload(t, "a.png", "image/png", png)
	require.Nil(t, f.blobs.Delete(context.Background(), keys.LookupKey+".png"))
	assert.Equal(t, http.StatusNotFound, f.get("/"+keys.LookupKey).Code)
	assert.Equal(t, http.StatusNotFound, f.get("/delete/"+keys.DeletionKey).Code)
}
