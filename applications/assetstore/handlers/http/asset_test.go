package http

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donmikel/assetstore/applications/assetstore/adapters/inmemory"
	"github.com/donmikel/assetstore/applications/assetstore/services"
)

const ownerURL = "/assets/T1/product-image/P100"

func newTestRouter(quota int64) http.Handler {
	logger := log.NewNopLogger()
	manager := services.NewManager(inmemory.NewStorage(quota, logger), logger)
	reconciler := services.NewReconciler(manager, inmemory.NewAssetRepository(), logger)
	return NewRouter(manager, reconciler, logger)
}

func do(t *testing.T, h http.Handler, method, url string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, url, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPutGetDeleteAsset(t *testing.T) {
	h := newTestRouter(0)

	rec := do(t, h, http.MethodPut, ownerURL+"/front.jpg?variant=large", strings.NewReader("bytes1"), "image/jpeg")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created assetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, assetResponse{FileName: "front.jpg", Variant: "large", ContentType: "image/jpeg", ByteLength: 6}, created)

	rec = do(t, h, http.MethodGet, ownerURL+"/front.jpg?variant=large", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bytes1", rec.Body.String())

	rec = do(t, h, http.MethodGet, ownerURL+"/front.jpg", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, ownerURL+"/front.jpg", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, ownerURL+"/front.jpg?variant=large", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAndDeleteOwner(t *testing.T) {
	h := newTestRouter(0)

	for _, name := range []string{"a.jpg", "b.jpg"} {
		rec := do(t, h, http.MethodPut, ownerURL+"/"+name, strings.NewReader(name), "image/jpeg")
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := do(t, h, http.MethodPut, "/assets/T1/product-image/P10/c.jpg", strings.NewReader("c"), "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, ownerURL, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []assetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 2)
	assert.Equal(t, "a.jpg", listed[0].FileName)
	assert.Equal(t, "b.jpg", listed[1].FileName)

	rec = do(t, h, http.MethodDelete, ownerURL, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, ownerURL, nil, "")
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/assets/T1/product-image/P10/c.jpg", nil, "")
	assert.Equal(t, "c", rec.Body.String())
}

func TestBadRequests(t *testing.T) {
	h := newTestRouter(0)

	rec := do(t, h, http.MethodGet, "/assets/T1/unknown/P100", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, ownerURL+"/a.jpg?variant=huge", strings.NewReader("x"), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, ownerURL+"/reconcile", strings.NewReader("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuotaExceeded(t *testing.T) {
	h := newTestRouter(2)

	rec := do(t, h, http.MethodPut, ownerURL+"/a.jpg", strings.NewReader("too big"), "")
	assert.Equal(t, http.StatusInsufficientStorage, rec.Code)
	assert.Equal(t, "false", rec.Header().Get("X-Retryable"))
}

type formFile struct {
	field, name, content string
}

func multipartBody(t *testing.T, keep []string, files []formFile) (*bytes.Buffer, string) {
	t.Helper()

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for _, k := range keep {
		require.NoError(t, mw.WriteField("keep", k))
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	return buf, mw.FormDataContentType()
}

func TestReconcile(t *testing.T) {
	h := newTestRouter(0)

	body, contentType := multipartBody(t, nil, []formFile{
		{"original", "front.jpg", "bytes1"},
		{"small", "front.jpg", "thumb"},
		{"original", "side.jpg", "side"},
	})
	rec := do(t, h, http.MethodPost, ownerURL+"/reconcile", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"created":2,"updated":0,"deleted":0,"unchanged":0,"failures":[]}`, rec.Body.String())

	body, contentType = multipartBody(t, []string{"front.jpg"}, nil)
	rec = do(t, h, http.MethodPost, ownerURL+"/reconcile", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"created":0,"updated":0,"deleted":1,"unchanged":1,"failures":[]}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, ownerURL+"/front.jpg?variant=small", nil, "")
	assert.Equal(t, "thumb", rec.Body.String())
	rec = do(t, h, http.MethodGet, ownerURL+"/side.jpg", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReconcilePartial(t *testing.T) {
	h := newTestRouter(5)

	body, contentType := multipartBody(t, nil, []formFile{
		{"original", "a.jpg", "1234"},
		{"original", "b.jpg", "123456"},
	})
	rec := do(t, h, http.MethodPost, ownerURL+"/reconcile", body, contentType)
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())

	var resp reconcileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Created)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, "b.jpg", resp.Failures[0].FileName)
	assert.Equal(t, "storage quota exceeded", resp.Failures[0].Kind)
}
