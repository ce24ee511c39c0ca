package mayasync

import (
	"errors"
	"fmt"
	"testing"

	"bitbucket.org/mmdatafocus/marketsync_backend/mayamall"
)

func TestRetryable_StatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{401, false},
		{403, false},
		{400, false},
		{404, false},
		{422, false},
	}

	for _, tc := range cases {
		err := &mayamall.APIError{StatusCode: tc.status, Body: "x"}
		if got := Retryable(err, RetryPolicy{}); got != tc.want {
			t.Errorf("status %d: retryable = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestRetryable_UnknownStatusDefaultsToNotRetryable(t *testing.T) {
	err := &mayamall.APIError{StatusCode: 0}
	if Retryable(err, RetryPolicy{}) {
		t.Fatal("no-status failure must not retry by default")
	}
	if !Retryable(err, RetryPolicy{RetryUnknown: true}) {
		t.Fatal("no-status failure must retry when opted in")
	}
}

func TestRetryable_ExtraRetryableCodes(t *testing.T) {
	policy := RetryPolicy{ExtraRetryable: []int{420}}
	if !Retryable(&mayamall.APIError{StatusCode: 420}, policy) {
		t.Fatal("extra code must be retryable")
	}
	if Retryable(&mayamall.APIError{StatusCode: 420}, RetryPolicy{}) {
		t.Fatal("420 must not be retryable without opt-in")
	}
}

func TestRetryable_WrappedErrorIsUnwrapped(t *testing.T) {
	inner := &mayamall.APIError{StatusCode: 503}
	wrapped := fmt.Errorf("fetch orders page: %w", inner)
	if !Retryable(wrapped, RetryPolicy{}) {
		t.Fatal("wrapped upstream 503 must stay retryable")
	}
}

func TestRetryable_NonUpstreamErrorsNeverRetry(t *testing.T) {
	if Retryable(errors.New("json: cannot unmarshal"), RetryPolicy{RetryUnknown: true}) {
		t.Fatal("local errors are not transient regardless of policy")
	}
	if Retryable(nil, RetryPolicy{RetryUnknown: true}) {
		t.Fatal("nil error is not retryable")
	}
}
