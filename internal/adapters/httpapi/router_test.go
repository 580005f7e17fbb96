package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"cellvault/docs/openapi"
	"cellvault/internal/audit"
	"cellvault/internal/blob"
	"cellvault/internal/core"
	"cellvault/internal/identity"
	"cellvault/internal/mutation"
	"cellvault/internal/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, maxBody int64) *gin.Engine {
	t.Helper()
	ctx := context.Background()
	store := blob.NewMemory()
	sink, err := audit.Open(ctx, audit.Config{Driver: audit.DriverMemory})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	key := mutation.DocumentKey{Bucket: "excel", Name: "master.xlsx"}
	svc := core.NewService(store, sink, mutation.NewCoordinator(store, sink, nil), key)

	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", 100))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	_ = f.Close()
	_, err = svc.Seed(ctx, buf.Bytes(), false)
	require.NoError(t, err)

	resolver := identity.NewStatic(
		identity.StaticToken{Token: "admin", UserID: "admin-1", Email: "admin@example.com", Role: identity.RoleAdmin},
		identity.StaticToken{Token: "editor", UserID: "editor-1", Email: "ed@example.com", CanEdit: true},
		identity.StaticToken{Token: "viewer", UserID: "viewer-1"},
	)
	return NewRouter(Options{
		Service:        svc,
		Resolver:       resolver,
		MaxBodyBytes:   maxBody,
		MetricsHandler: observability.NewPrometheusRecorder().Handler(),
	})
}

func do(t *testing.T, r http.Handler, method, target, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthAndPing(t *testing.T) {
	r := newTestRouter(t, 0)
	w := do(t, r, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["ok"])
	w = do(t, r, http.MethodGet, "/ping", "", "")
	assert.Equal(t, "pong", decode(t, w)["message"])
	w = do(t, r, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadRoutes(t *testing.T) {
	r := newTestRouter(t, 0)

	w := do(t, r, http.MethodGet, "/excel/sheets", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"Sheet1"}, decode(t, w)["sheets"])

	w = do(t, r, http.MethodGet, "/excel/get?sheet=Sheet1&cell=A1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(100), decode(t, w)["value"])

	w = do(t, r, http.MethodGet, "/excel/get?sheet=Sheet1", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decode(t, w)["kind"])

	w = do(t, r, http.MethodGet, "/excel/get?sheet=Other&cell=A1", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/excel/preview?sheet=Sheet1&rows=2&cols=3", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	grid := decode(t, w)["preview"].([]any)
	require.Len(t, grid, 2)
	assert.Equal(t, []any{float64(100), nil, nil}, grid[0])

	w = do(t, r, http.MethodGet, "/excel/preview?sheet=Sheet1&rows=x", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/excel/meta", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "master.xlsx", decode(t, w)["name"])

	w = do(t, r, http.MethodGet, "/excel/download", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, mutation.ContentTypeXLSX, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "master.xlsx")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))

	w = do(t, r, http.MethodGet, "/excel/export/csv?sheet=Sheet1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "100\n", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Sheet1.csv")

	w = do(t, r, http.MethodGet, "/excel/export/html?sheet=Sheet1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<td>100</td>")

	w = do(t, r, http.MethodGet, "/excel/public", "", "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestUpdateAuthorization(t *testing.T) {
	r := newTestRouter(t, 0)
	body := `{"changes":[{"sheet":"Sheet1","cell":"A1","value":"150"}]}`

	assert.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodPost, "/excel/update", "", body).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodPost, "/excel/update", "bogus", body).Code)
	assert.Equal(t, http.StatusForbidden, do(t, r, http.MethodPost, "/excel/update", "viewer", body).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/excel/update", "editor", `{"changes":`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/excel/update", "editor", `{"changes":[{"sheet":"Nope","cell":"A1","value":1}]}`).Code)
}

func TestEditorUpdateAndAudit(t *testing.T) {
	r := newTestRouter(t, 0)
	w := do(t, r, http.MethodPost, "/excel/update", "editor", `{"changes":[{"sheet":"Sheet1","cell":"A1","value":"150"}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, float64(1), resp["changes_applied"])
	assert.NotContains(t, resp, "warning")

	w = do(t, r, http.MethodGet, "/excel/get?sheet=Sheet1&cell=A1", "", "")
	assert.Equal(t, float64(150), decode(t, w)["value"])

	w = do(t, r, http.MethodGet, "/excel/audit", "editor", "")
	require.Equal(t, http.StatusOK, w.Code)
	logs := decode(t, w)["logs"].([]any)
	require.Len(t, logs, 1)
	rec := logs[0].(map[string]any)
	assert.Equal(t, "Sheet1", rec["sheet"])
	assert.Equal(t, "A1", rec["cell"])
	assert.Equal(t, "100", rec["old_value"])
	assert.Equal(t, "150", rec["new_value"])

	w = do(t, r, http.MethodGet, "/excel/audit", "viewer", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["logs"])

	w = do(t, r, http.MethodGet, "/excel/audit?limit=5", "admin", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["logs"], 1)

	assert.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodGet, "/excel/audit", "", "").Code)
}

func TestBodyLimit(t *testing.T) {
	r := newTestRouter(t, 64)
	body := `{"changes":[{"sheet":"Sheet1","cell":"A1","value":"` + strings.Repeat("x", 128) + `"}]}`
	w := do(t, r, http.MethodPost, "/excel/update", "editor", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRoles(t *testing.T) {
	r := newTestRouter(t, 0)
	assert.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodGet, "/roles/me", "", "").Code)

	w := do(t, r, http.MethodGet, "/roles/me", "editor", "")
	require.Equal(t, http.StatusOK, w.Code)
	me := decode(t, w)
	assert.Equal(t, "editor-1", me["id"])
	assert.Equal(t, "user", me["role"])
	assert.Equal(t, true, me["can_edit"])

	assert.Equal(t, http.StatusForbidden, do(t, r, http.MethodPost, "/roles/self-edit", "editor", "").Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/roles/self-edit", "admin", "").Code)
	w = do(t, r, http.MethodGet, "/roles/guide", "", "")
	assert.Len(t, decode(t, w)["steps"], 4)
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"Bearer abc":   "abc",
		"bearer  xyz ": "xyz",
		"Basic abc":    "",
		"Bearer":       "",
	}
	for header, want := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			c.Request.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, extractBearerToken(c), header)
	}
}

func TestEveryRouteIsDocumented(t *testing.T) {
	r := newTestRouter(t, 0)
	documented, err := openapi.Operations()
	require.NoError(t, err)
	for _, route := range r.Routes() {
		p := route.Path
		for _, seg := range strings.Split(p, "/") {
			if strings.HasPrefix(seg, ":") {
				p = strings.Replace(p, seg, "{"+seg[1:]+"}", 1)
			}
		}
		assert.Contains(t, documented, route.Method+" "+p)
	}

	w := do(t, r, http.MethodGet, "/openapi.yaml", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/excel/update:")
}
