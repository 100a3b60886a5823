package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MakeAuthRequest serves one JSON request against handler. A nil body sends
// no payload; an empty token omits the Authorization header.
func MakeAuthRequest(handler http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			panic("testutil: marshal request body: " + err.Error())
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func MakeAPIRequest(handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	return MakeAuthRequest(handler, method, path, body, "")
}

// DoJSON serves a request and decodes the response into out after checking
// the status code.
func DoJSON(t *testing.T, handler http.Handler, method, path string, body any, token string, status int, out any) {
	t.Helper()
	resp := MakeAuthRequest(handler, method, path, body, token)
	AssertHTTPStatus(t, resp, status)
	if out != nil {
		DecodeJSON(t, resp, out)
	}
}
