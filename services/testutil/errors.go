package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const (
	ErrorCodeInvalidRequest       = "INVALID_REQUEST"
	ErrorCodeUnauthorized         = "UNAUTHORIZED"
	ErrorCodeForbidden            = "FORBIDDEN"
	ErrorCodeRateLimited          = "RATE_LIMITED"
	ErrorCodeInsufficientBalance  = "INSUFFICIENT_BALANCE"
	ErrorCodeInsufficientQuantity = "INSUFFICIENT_QUANTITY"
	ErrorCodeNotFound             = "NOT_FOUND"
	ErrorCodeOrderNotFound        = "ORDER_NOT_FOUND"
	ErrorCodeAssetNotFound        = "ASSET_NOT_FOUND"
	ErrorCodeWalletNotFound       = "WALLET_NOT_FOUND"
	ErrorCodeWithdrawalNotFound   = "WITHDRAWAL_NOT_FOUND"
	ErrorCodePaymentNotFound      = "PAYMENT_NOT_FOUND"
	ErrorCodeAlreadyResolved      = "ALREADY_RESOLVED"
	ErrorCodeConflict             = "CONFLICT"
	ErrorCodeMarketData           = "MARKET_DATA_UNAVAILABLE"
	ErrorCodeInternalError        = "INTERNAL_ERROR"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func AssertErrorCode(t *testing.T, resp *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	if resp.Code != getHTTPStatusForErrorCode(expectedCode) {
		t.Fatalf("expected status %d, got %d: %s", getHTTPStatusForErrorCode(expectedCode), resp.Code, resp.Body.String())
	}

	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}

	if errResp.Code != expectedCode {
		t.Fatalf("expected error code %q, got %q", expectedCode, errResp.Code)
	}
}

func AssertErrorMessage(t *testing.T, resp *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}

	if errResp.Message != expectedMessage {
		t.Fatalf("expected error message %q, got %q", expectedMessage, errResp.Message)
	}
}

func AssertHTTPStatus(t *testing.T, resp *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if resp.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d: %s", expectedStatus, resp.Code, resp.Body.String())
	}
}

// DecodeJSON unmarshals a response body into out.
func DecodeJSON(t *testing.T, resp *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, resp.Body.String())
	}
}

func getHTTPStatusForErrorCode(code string) int {
	switch code {
	case ErrorCodeInvalidRequest, ErrorCodeInsufficientBalance, ErrorCodeInsufficientQuantity:
		return http.StatusBadRequest
	case ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrorCodeForbidden:
		return http.StatusForbidden
	case ErrorCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrorCodeNotFound, ErrorCodeOrderNotFound, ErrorCodeAssetNotFound, ErrorCodeWalletNotFound,
		ErrorCodeWithdrawalNotFound, ErrorCodePaymentNotFound:
		return http.StatusNotFound
	case ErrorCodeAlreadyResolved, ErrorCodeConflict:
		return http.StatusConflict
	case ErrorCodeMarketData:
		return http.StatusServiceUnavailable
	case ErrorCodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
