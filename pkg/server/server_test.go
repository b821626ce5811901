package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tracklab/tracklab/pkg/authz"
	"github.com/tracklab/tracklab/pkg/blobstore"
	"github.com/tracklab/tracklab/pkg/registry"
	"github.com/tracklab/tracklab/pkg/sequence"
)

func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := registry.NewStore(db)
	require.NoError(t, store.AutoMigrate())
	aclStore := authz.NewACLStore(db)
	require.NoError(t, aclStore.AutoMigrate())
	engine := authz.NewEngine(aclStore, nil)
	counter := sequence.NewCounter(db)
	require.NoError(t, counter.AutoMigrate())
	files := blobstore.NewFileStore(blobstore.NewMemoryBackend(), 1024, nil)

	service := registry.NewService(store, engine, counter, files, nil)
	ts := httptest.NewServer(New(service, engine).Routes())
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, ts *httptest.Server, user, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-Remote-User", user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthz(t *testing.T) {
	ts := setupTestServer(t)
	resp := doRequest(t, ts, "", http.MethodGet, "/healthz", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProjectLifecycleOverHTTP(t *testing.T) {
	ts := setupTestServer(t)

	resp := doRequest(t, ts, "u1", http.MethodPost, "/api/v1/projects",
		map[string]string{"key": "proj-1", "name": "Project One"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, ts, "u1", http.MethodGet, "/api/v1/projects/proj-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	project := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "Project One", project["name"])

	// Invisible to a stranger: 404, not 403.
	resp = doRequest(t, ts, "stranger", http.MethodGet, "/api/v1/projects/proj-1", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPermissionEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	resp := doRequest(t, ts, "u1", http.MethodPost, "/api/v1/projects",
		map[string]string{"key": "proj-1", "name": "p"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, ts, "u1", http.MethodGet, "/api/v1/projects/proj-1/permissions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	perms := decodeBody[map[string]string](t, resp)
	assert.Equal(t, map[string]string{"u1": "OWNER"}, perms)

	resp = doRequest(t, ts, "u1", http.MethodPut, "/api/v1/projects/proj-1/permissions",
		map[string]string{"u2": "VIEWER"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	// A viewer may read permissions but not grant them.
	resp = doRequest(t, ts, "u2", http.MethodPut, "/api/v1/projects/proj-1/permissions",
		map[string]string{"u3": "OWNER"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRunStateConflictOverHTTP(t *testing.T) {
	ts := setupTestServer(t)

	resp := doRequest(t, ts, "u1", http.MethodPost, "/api/v1/projects",
		map[string]string{"key": "proj-1", "name": "p"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, ts, "u1", http.MethodPost, "/api/v1/projects/proj-1/runs",
		map[string]string{"name": "train"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	run := decodeBody[map[string]any](t, resp)
	runID := run["id"].(string)

	resp = doRequest(t, ts, "u1", http.MethodPatch, "/api/v1/projects/proj-1/runs/"+runID,
		map[string]any{"status": "COMPLETED"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, ts, "u1", http.MethodPatch, "/api/v1/projects/proj-1/runs/"+runID,
		map[string]any{"metrics": map[string]string{"loss": "1"}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// A terminal run rejects new artifacts with 400.
	resp = doRequest(t, ts, "u1", http.MethodPost, "/api/v1/projects/proj-1/runs/"+runID+"/artifacts",
		map[string]string{"name": "model", "type": "weights"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestArtifactFileUploadDownloadOverHTTP(t *testing.T) {
	ts := setupTestServer(t)

	resp := doRequest(t, ts, "u1", http.MethodPost, "/api/v1/projects",
		map[string]string{"key": "proj-1", "name": "p"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, ts, "u1", http.MethodPost, "/api/v1/projects/proj-1/runs",
		map[string]string{"name": "train"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	run := decodeBody[map[string]any](t, resp)
	runID := run["id"].(string)

	resp = doRequest(t, ts, "u1", http.MethodPost, "/api/v1/projects/proj-1/runs/"+runID+"/artifacts",
		map[string]string{"name": "model", "type": "weights"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	artifact := decodeBody[map[string]any](t, resp)
	artifactID := artifact["id"].(string)

	resp = doRequest(t, ts, "u1", http.MethodPut,
		"/api/v1/projects/proj-1/artifacts/"+artifactID+"/files/weights.bin",
		[]byte("binary-weights"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, ts, "u1", http.MethodGet,
		"/api/v1/projects/proj-1/artifacts/"+artifactID+"/files/weights.bin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("binary-weights"), body)

	// A version id the store never issued is a 404, not a 200 with an
	// error mid-stream.
	resp = doRequest(t, ts, "u1", http.MethodGet,
		"/api/v1/projects/proj-1/artifacts/"+artifactID+"/files/weights.bin?versionId=bogus", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
