package secretsresolver

import (
	"context"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type secretsManagerGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerResolver resolves secrets from AWS Secrets Manager.
// References take the form "awssm:///secret-id" or "awssm://region/secret-id".
type SecretsManagerResolver struct {
	client secretsManagerGetter
}

func (r *SecretsManagerResolver) Scheme() string { return "awssm" }

func (r *SecretsManagerResolver) clientFor(ctx context.Context, region string) (secretsManagerGetter, error) {
	if r.client != nil {
		return r.client, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &BackendError{Backend: "AWS Secrets Manager", Reason: "loading AWS config: " + err.Error(), Fix: "Run: aws configure, or set AWS_PROFILE"}
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

func (r *SecretsManagerResolver) Resolve(ctx context.Context, reference string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	region, secretID, err := parseSecretsManagerReference(reference)
	if err != nil {
		return "", err
	}

	client, err := r.clientFor(ctx, region)
	if err != nil {
		return "", err
	}

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "ResourceNotFoundException"):
			return "", &NotFoundError{Reference: reference, Backend: "AWS Secrets Manager"}
		case strings.Contains(msg, "AccessDenied"):
			return "", &BackendError{Backend: "AWS Secrets Manager", Reference: reference, Reason: "access denied", Fix: "Check IAM permissions for secretsmanager:GetSecretValue on " + secretID}
		default:
			return "", &BackendError{Backend: "AWS Secrets Manager", Reference: reference, Reason: msg}
		}
	}
	if out.SecretString == nil {
		return "", &NotFoundError{Reference: reference, Backend: "AWS Secrets Manager"}
	}
	return *out.SecretString, nil
}

// parseSecretsManagerReference extracts region and secret ID from an
// awssm:// URI. awssm:///my-secret -> ("", "my-secret");
// awssm://us-west-2/my-secret -> ("us-west-2", "my-secret").
func parseSecretsManagerReference(ref string) (region, secretID string, err error) {
	u, parseErr := url.Parse(ref)
	if parseErr != nil {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "invalid URI"}
	}
	if u.Scheme != "awssm" {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "expected awssm:// scheme"}
	}
	region = u.Host
	secretID = strings.TrimPrefix(u.Path, "/")
	if secretID == "" {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "secret id must be non-empty"}
	}
	return region, secretID, nil
}

func init() {
	Register(&SecretsManagerResolver{})
}
