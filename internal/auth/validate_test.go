package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/fpang/erasebg-relay/internal/pixelbin"
)

type stubIdentity struct {
	info *pixelbin.AppInfo
	err  error
}

func (s stubIdentity) AppInfo(context.Context) (*pixelbin.AppInfo, error) {
	return s.info, s.err
}

func appInfo(t *testing.T, body string) *pixelbin.AppInfo {
	t.Helper()
	var info pixelbin.AppInfo
	if err := json.Unmarshal([]byte(body), &info); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return &info
}

func TestVerify_Success(t *testing.T) {
	info := appInfo(t, `{"app":{"orgId":"org1"},"org":{"cloudName":"cloud1"}}`)

	id, err := Verify(context.Background(), "abc123", stubIdentity{info: info})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.OrgID != "org1" || id.CloudName != "cloud1" {
		t.Errorf("unexpected identity: %+v", id)
	}
}

func TestVerify_EmptyToken(t *testing.T) {
	_, err := Verify(context.Background(), "  ", stubIdentity{})
	var valErr *ValidationError
	if !errors.As(err, &valErr) || valErr.Type != ErrTypeNoKey {
		t.Fatalf("expected ErrTypeNoKey, got %v", err)
	}
}

func TestVerify_NoCloudName(t *testing.T) {
	_, err := Verify(context.Background(), "abc123", stubIdentity{info: &pixelbin.AppInfo{}})
	var valErr *ValidationError
	if !errors.As(err, &valErr) || valErr.Type != ErrTypeUnknown {
		t.Fatalf("expected ErrTypeUnknown, got %v", err)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ValidationErrorType
	}{
		{"bad request", &pixelbin.APIError{StatusCode: 400}, ErrTypeInvalidKey},
		{"unauthorized", &pixelbin.APIError{StatusCode: 401}, ErrTypeInvalidKey},
		{"forbidden wrapped", fmt.Errorf("get app info: %w", &pixelbin.APIError{StatusCode: 403}), ErrTypeInvalidKey},
		{"rate limited", &pixelbin.APIError{StatusCode: 429}, ErrTypeQuotaExceeded},
		{"server", &pixelbin.APIError{StatusCode: 503}, ErrTypeNetworkError},
		{"teapot", &pixelbin.APIError{StatusCode: 418, Message: "short and stout"}, ErrTypeUnknown},
		{"deadline", context.DeadlineExceeded, ErrTypeNetworkError},
		{"dns", errors.New("dial tcp: lookup api: no such host"), ErrTypeNetworkError},
		{"other", errors.New("something odd"), ErrTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err)
			if got.Type != tt.want {
				t.Errorf("type = %v, want %v", got.Type, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classified error should wrap the original")
			}
		})
	}
}
