package secretsresolver

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

func TestParseSecretsManagerReference(t *testing.T) {
	tests := []struct {
		name       string
		ref        string
		wantRegion string
		wantID     string
		wantErr    bool
	}{
		{name: "simple id", ref: "awssm:///my-secret", wantRegion: "", wantID: "my-secret"},
		{name: "with region", ref: "awssm://us-west-2/my-secret", wantRegion: "us-west-2", wantID: "my-secret"},
		{name: "empty id", ref: "awssm://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			region, id, err := parseSecretsManagerReference(tt.ref)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if region != tt.wantRegion || id != tt.wantID {
				t.Errorf("got (%q, %q), want (%q, %q)", region, id, tt.wantRegion, tt.wantID)
			}
		})
	}
}

func TestSecretsManagerResolverScheme(t *testing.T) {
	r := &SecretsManagerResolver{}
	if r.Scheme() != "awssm" {
		t.Errorf("Scheme() = %q, want %q", r.Scheme(), "awssm")
	}
}

type fakeSecretsManagerClient struct {
	out *secretsmanager.GetSecretValueOutput
	err error
}

func (f *fakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return f.out, f.err
}

func TestSecretsManagerResolverResolveSuccess(t *testing.T) {
	r := &SecretsManagerResolver{client: &fakeSecretsManagerClient{out: &secretsmanager.GetSecretValueOutput{
		SecretString: aws.String("shh"),
	}}}

	val, err := r.Resolve(context.Background(), "awssm:///my-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "shh" {
		t.Errorf("value = %q, want %q", val, "shh")
	}
}

func TestSecretsManagerResolverResolveNotFound(t *testing.T) {
	r := &SecretsManagerResolver{client: &fakeSecretsManagerClient{err: errors.New("ResourceNotFoundException: not found")}}

	_, err := r.Resolve(context.Background(), "awssm:///my-secret")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %T: %v", err, err)
	}
}
