package router

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shandysiswandi/schemabus/internal/pkg/config"
	"github.com/shandysiswandi/schemabus/internal/pkg/goerror"
	"github.com/shandysiswandi/schemabus/internal/pkg/instrument"
	"github.com/shandysiswandi/schemabus/internal/pkg/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticID string

func (s staticID) Generate() string { return string(s) }

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	cfg, err := config.NewViperFromBytes("yaml", []byte(`
app:
  maintenance:
    endpoints: "/api/v1/down"
`))
	require.NoError(t, err)

	return NewRouter(Config{Config: cfg, UUID: staticID("cid-gen"), Instrument: instrument.NewNoop()})
}

func serve(r *Router, method, target, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRouter_Success(t *testing.T) {
	r := newTestRouter(t)
	r.GET("/api/v1/topics/:id", func(req *Request) (any, error) {
		return map[string]string{"id": req.GetParam("id")}, nil
	})

	rec := serve(r, http.MethodGet, "/api/v1/topics/states", "", instrument.HeaderCorrelationID, "cid-in")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cid-in", rec.Header().Get(instrument.HeaderCorrelationID))
	body := decode(t, rec)
	assert.Equal(t, map[string]any{"id": "states"}, body["data"])

	rec = serve(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cid-gen", rec.Header().Get(instrument.HeaderCorrelationID))
}

func TestRouter_Errors(t *testing.T) {
	r := newTestRouter(t)
	r.POST("/api/v1/missing", func(*Request) (any, error) {
		return nil, goerror.NewNotFound(errors.New("x"), "Topic not found")
	})
	r.POST("/api/v1/invalid", func(*Request) (any, error) {
		return nil, goerror.NewInvalidInput(validator.V10ValidationError{"topic_id": "is required"})
	})
	r.POST("/api/v1/plain", func(*Request) (any, error) {
		return nil, errors.New("boom")
	})
	r.POST("/api/v1/panic", func(*Request) (any, error) {
		panic("bad")
	})
	r.POST("/api/v1/down", func(*Request) (any, error) {
		return "never", nil
	})

	tests := []struct {
		path   string
		status int
		msg    string
	}{
		{path: "/api/v1/missing", status: http.StatusNotFound, msg: "Topic not found"},
		{path: "/api/v1/invalid", status: http.StatusUnprocessableEntity, msg: "Validation error"},
		{path: "/api/v1/plain", status: http.StatusInternalServerError, msg: "Internal server error"},
		{path: "/api/v1/panic", status: http.StatusInternalServerError, msg: "Internal server error"},
		{path: "/api/v1/down", status: http.StatusServiceUnavailable, msg: "service is under maintenance"},
		{path: "/api/v1/nowhere", status: http.StatusNotFound, msg: "endpoint not found"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(r, http.MethodPost, tt.path, "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.msg, decode(t, rec)["message"])
		})
	}

	rec := serve(r, http.MethodPost, "/api/v1/invalid", "")
	assert.Equal(t, map[string]any{"topic_id": "is required"}, decode(t, rec)["error"])
}

func TestRequest_Helpers(t *testing.T) {
	r := newTestRouter(t)
	r.POST("/api/v1/subscriptions/:id/pull", func(req *Request) (any, error) {
		max, err := req.GetQueryInt("max", 10)
		if err != nil {
			return nil, err
		}
		now, err := req.GetQueryBool("immediate", false)
		if err != nil {
			return nil, err
		}
		var body struct {
			Fields map[string]any `json:"fields"`
		}
		if err := req.DecodeBody(&body); err != nil {
			return nil, err
		}
		return map[string]any{"max": max, "immediate": now, "n": body.Fields["n"]}, nil
	})

	rec := serve(r, http.MethodPost, "/api/v1/subscriptions/s/pull?immediate=true", `{"fields":{"n":7}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"max": float64(10), "immediate": true, "n": float64(7)}, decode(t, rec)["data"])

	rec = serve(r, http.MethodPost, "/api/v1/subscriptions/s/pull?max=x", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(r, http.MethodPost, "/api/v1/subscriptions/s/pull", `{"unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(r, http.MethodPost, "/api/v1/subscriptions/s/pull", `{} {}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "h") }), mw("a"), mw("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "h"}, order)
}
