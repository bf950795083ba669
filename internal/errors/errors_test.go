package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestConstructorsCarryHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  *ServiceError
		code ErrorCode
		want int
	}{
		{"unauthorized", Unauthorized("nope"), CodeUnauthorized, http.StatusUnauthorized},
		{"invalid token", InvalidToken(nil), CodeInvalidToken, http.StatusUnauthorized},
		{"forbidden", Forbidden(""), CodeForbidden, http.StatusForbidden},
		{"not found", NotFound("user", "u1"), CodeNotFound, http.StatusNotFound},
		{"conflict", Conflict("email taken"), CodeConflict, http.StatusConflict},
		{"rate limit", RateLimitExceeded(10, "1s"), CodeRateLimitExceeded, http.StatusTooManyRequests},
		{"internal", Internal("", nil), CodeInternal, http.StatusInternalServerError},
		{"validation", Validation("bad email"), CodeValidation, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Code != tc.code {
				t.Fatalf("code = %q, want %q", tc.err.Code, tc.code)
			}
			if tc.err.HTTPStatus != tc.want {
				t.Fatalf("status = %d, want %d", tc.err.HTTPStatus, tc.want)
			}
		})
	}
}

func TestGetServiceErrorUnwrapsChain(t *testing.T) {
	inner := Unauthorized("missing header")
	wrapped := fmt.Errorf("handling request: %w", inner)

	got := GetServiceError(wrapped)
	if got == nil {
		t.Fatal("expected service error, got nil")
	}
	if got.Code != CodeUnauthorized {
		t.Fatalf("code = %q, want %q", got.Code, CodeUnauthorized)
	}

	if GetServiceError(stderrors.New("plain")) != nil {
		t.Fatal("plain error should not resolve to a service error")
	}
}

func TestInvalidTokenPreservesCause(t *testing.T) {
	cause := stderrors.New("signature mismatch")
	err := InvalidToken(cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("cause should be reachable via errors.Is")
	}
}

func TestWithDetails(t *testing.T) {
	err := Unauthorized("").WithDetails("header", "Authorization")
	if err.Details["header"] != "Authorization" {
		t.Fatalf("details = %v", err.Details)
	}
}
