package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

func TestEmployee(t *testing.T) {
	mux := newMux(handlerConfig{}, zerolog.Nop())

	rec := post(mux, "/employee", `{"id":"abc","first_name":"Ada"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","id":"abc"}`, rec.Body.String())

	rec = post(mux, "/employee", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/employee", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEmployee_FailEvery(t *testing.T) {
	mux := newMux(handlerConfig{FailEvery: 3}, zerolog.Nop())

	var codes []int
	for i := 0; i < 6; i++ {
		codes = append(codes, post(mux, "/employee", `{"id":"x"}`).Code)
	}
	assert.Equal(t, []int{200, 200, 500, 200, 200, 500}, codes)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newMux(handlerConfig{}, zerolog.Nop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", rec.Body.String())
}
