package secretsresolver

import (
	"context"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmGetParameterer is the subset of the SSM client this resolver needs,
// injectable for testing (mirrors the teacher's STSAssumeRoler seam in
// internal/providers/aws/endpoint.go).
type ssmGetParameterer interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMResolver resolves secrets from AWS Systems Manager Parameter Store via
// the AWS SDK. References take the form "ssm:///path" (default region) or
// "ssm://region/path".
type SSMResolver struct {
	client ssmGetParameterer
}

func (r *SSMResolver) Scheme() string { return "ssm" }

func (r *SSMResolver) clientFor(ctx context.Context, region string) (ssmGetParameterer, error) {
	if r.client != nil {
		return r.client, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &BackendError{Backend: "AWS SSM", Reason: "loading AWS config: " + err.Error(), Fix: "Run: aws configure, or set AWS_PROFILE"}
	}
	return ssm.NewFromConfig(cfg), nil
}

// Resolve fetches a decrypted parameter value.
func (r *SSMResolver) Resolve(ctx context.Context, reference string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	region, paramPath, err := parseSSMReference(reference)
	if err != nil {
		return "", err
	}

	client, err := r.clientFor(ctx, region)
	if err != nil {
		return "", err
	}

	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(paramPath),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", parseSSMError(err, reference, paramPath)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", &NotFoundError{Reference: reference, Backend: "AWS SSM"}
	}
	return *out.Parameter.Value, nil
}

// parseSSMReference extracts region and parameter path from an ssm:// URI.
// ssm:///path/to/param -> ("", "/path/to/param")
// ssm://us-west-2/path/to/param -> ("us-west-2", "/path/to/param")
func parseSSMReference(ref string) (region, path string, err error) {
	u, parseErr := url.Parse(ref)
	if parseErr != nil {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "invalid URI"}
	}
	if u.Scheme != "ssm" {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "expected ssm:// scheme"}
	}
	region = u.Host
	path = u.Path
	if path == "" || path[0] != '/' {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "parameter path must start with /"}
	}
	return region, path, nil
}

func parseSSMError(err error, reference, paramPath string) error {
	msg := err.Error()

	switch {
	case strings.Contains(msg, "ParameterNotFound"):
		return &NotFoundError{Reference: reference, Backend: "AWS SSM"}
	case strings.Contains(msg, "AccessDenied"):
		return &BackendError{Backend: "AWS SSM", Reference: reference, Reason: "access denied", Fix: "Check IAM permissions for ssm:GetParameter on " + paramPath}
	case strings.Contains(msg, "ExpiredToken"):
		return &BackendError{Backend: "AWS SSM", Reference: reference, Reason: "AWS credentials expired", Fix: "Run: aws sso login"}
	case strings.Contains(msg, "no EC2 IMDS role found") || strings.Contains(msg, "failed to retrieve credentials"):
		return &BackendError{Backend: "AWS SSM", Reference: reference, Reason: "no AWS credentials found", Fix: "Configure credentials: aws configure, or run aws sso login"}
	default:
		return &BackendError{Backend: "AWS SSM", Reference: reference, Reason: msg}
	}
}

func init() {
	Register(&SSMResolver{})
}
