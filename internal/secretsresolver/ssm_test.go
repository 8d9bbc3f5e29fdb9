package secretsresolver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

func TestParseSSMReference(t *testing.T) {
	tests := []struct {
		name       string
		ref        string
		wantRegion string
		wantPath   string
		wantErr    bool
	}{
		{name: "simple path", ref: "ssm:///production/database/url", wantRegion: "", wantPath: "/production/database/url"},
		{name: "with region", ref: "ssm://us-west-2/production/api-key", wantRegion: "us-west-2", wantPath: "/production/api-key"},
		{name: "nested path", ref: "ssm:///a/b/c/d/e", wantRegion: "", wantPath: "/a/b/c/d/e"},
		{name: "region without path", ref: "ssm://us-west-2", wantErr: true},
		{name: "empty path", ref: "ssm://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			region, path, err := parseSSMReference(tt.ref)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if region != tt.wantRegion {
				t.Errorf("region = %q, want %q", region, tt.wantRegion)
			}
			if path != tt.wantPath {
				t.Errorf("path = %q, want %q", path, tt.wantPath)
			}
		})
	}
}

func TestSSMResolverScheme(t *testing.T) {
	r := &SSMResolver{}
	if r.Scheme() != "ssm" {
		t.Errorf("Scheme() = %q, want %q", r.Scheme(), "ssm")
	}
}

type fakeSSMClient struct {
	out *ssm.GetParameterOutput
	err error
}

func (f *fakeSSMClient) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return f.out, f.err
}

func TestSSMResolverResolveSuccess(t *testing.T) {
	r := &SSMResolver{client: &fakeSSMClient{out: &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{Value: aws.String("shh")},
	}}}

	val, err := r.Resolve(context.Background(), "ssm:///test/param")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "shh" {
		t.Errorf("value = %q, want %q", val, "shh")
	}
}

func TestSSMResolverResolveNotFound(t *testing.T) {
	r := &SSMResolver{client: &fakeSSMClient{err: errors.New("An error occurred (ParameterNotFound) when calling the GetParameter operation")}}

	_, err := r.Resolve(context.Background(), "ssm:///test/param")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %T: %v", err, err)
	}
}

func TestSSMResolverResolveAccessDenied(t *testing.T) {
	r := &SSMResolver{client: &fakeSSMClient{err: errors.New("AccessDeniedException: not authorized")}}

	_, err := r.Resolve(context.Background(), "ssm:///test/param")
	var backendErr *BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("expected BackendError, got %T: %v", err, err)
	}
	if !strings.Contains(backendErr.Reason, "access denied") {
		t.Errorf("expected reason to contain 'access denied', got %q", backendErr.Reason)
	}
}
