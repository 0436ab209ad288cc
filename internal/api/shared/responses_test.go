package shared

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	RespondWithJSON(rec, req, http.StatusCreated, map[string]int{"count": 3})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"count":3}`, rec.Body.String())
}

func TestRespondWithError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(SetTraceID(req.Context()))

	RespondWithError(rec, req, http.StatusNotFound, "Task not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "Task not found", resp.Error)
	assert.Len(t, resp.TraceID, 2*TraceIDLength)
}

func TestRespondWithErrorAndLogHidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	cause := errors.New("dial tcp: connection refused to postgres://user:hunter2@db:5432/app")
	RespondWithErrorAndLog(rec, req, http.StatusInternalServerError, "An unexpected error occurred", cause)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "An unexpected error occurred")
	assert.NotContains(t, body, "hunter2", "raw error must never reach the client")
	assert.NotContains(t, body, "connection refused")
}

type tagged struct {
	Name string `validate:"required"`
}

type selfValidating struct {
	ok bool
}

func (s selfValidating) Validate() error {
	if !s.ok {
		return errors.New("not ok")
	}
	return nil
}

func TestValidateRequest(t *testing.T) {
	assert.Error(t, ValidateRequest(tagged{}))
	assert.NoError(t, ValidateRequest(tagged{Name: "x"}))

	assert.Error(t, ValidateRequest(selfValidating{ok: false}))
	assert.NoError(t, ValidateRequest(selfValidating{ok: true}))
}

func TestDecodeJSON(t *testing.T) {
	req := httptest.NewRequest(
		http.MethodPost,
		"/",
		strings.NewReader(`{"Name":"batch"}`),
	)

	var v tagged
	require.NoError(t, DecodeJSON(req, &v))
	assert.Equal(t, "batch", v.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	assert.Error(t, DecodeJSON(req, &v))
}

func TestTraceIDGeneration(t *testing.T) {
	ctx := SetTraceID(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	first := GetTraceID(ctx)
	assert.Len(t, first, 2*TraceIDLength)

	second := GetTraceID(SetTraceID(ctx))
	assert.NotEqual(t, first, second, "each SetTraceID call mints a fresh ID")
}
