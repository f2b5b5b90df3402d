package router

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/shandysiswandi/schemabus/internal/pkg/goerror"
)

// maxBodyBytes bounds request bodies; publish batches are the largest.
const maxBodyBytes = 10 << 20

// Request wraps http.Request with helpers for inbound handlers.
type Request struct {
	*http.Request
}

// GetParam reads a path parameter.
func (r *Request) GetParam(key string) string {
	return httprouter.ParamsFromContext(r.Context()).ByName(key)
}

func (r *Request) GetQuery(key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

// GetQueryInt returns def when the query is absent.
func (r *Request) GetQueryInt(key string, def int) (int, error) {
	q := r.GetQuery(key)
	if q == "" {
		return def, nil
	}
	v, err := strconv.Atoi(q)
	if err != nil {
		return 0, goerror.NewInvalidFormat("Invalid query " + key)
	}
	return v, nil
}

// GetQueryBool returns def when the query is absent.
func (r *Request) GetQueryBool(key string, def bool) (bool, error) {
	q := r.GetQuery(key)
	if q == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(q)
	if err != nil {
		return false, goerror.NewInvalidFormat("Invalid query " + key)
	}
	return v, nil
}

// DecodeBody decodes a single JSON document into dst. Numbers are kept as
// json.Number so message fields can be coerced against their schema.
func (r *Request) DecodeBody(dst any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return goerror.NewInvalidFormat()
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	dec.UseNumber()

	if err := dec.Decode(dst); err != nil {
		return goerror.NewInvalidFormat()
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return goerror.NewInvalidFormat()
	}
	return nil
}
