package secretsresolver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ResolveAuth implements spec §4.3's auth spec grammar for fields that
// accept `auth`: "env:VARNAME" reads an environment variable (error if
// unset), "command:..." runs the remainder as a shell command and takes
// its trimmed stdout, and "null" (or an empty spec) means no auth token.
// The returned token is empty for "null"/empty, and also when the variable
// is set to an empty value or the command prints nothing.
func ResolveAuth(ctx context.Context, spec string) (string, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "" || spec == "null":
		return "", nil

	case strings.HasPrefix(spec, "env:"):
		name := strings.TrimPrefix(spec, "env:")
		if name == "" {
			return "", &InvalidReferenceError{Reference: spec, Reason: "env: requires a variable name"}
		}
		val, ok := os.LookupEnv(name)
		if !ok {
			return "", &NotFoundError{Reference: spec, Backend: "environment"}
		}
		return val, nil

	case strings.HasPrefix(spec, "command:"):
		command := strings.TrimPrefix(spec, "command:")
		if strings.TrimSpace(command) == "" {
			return "", &InvalidReferenceError{Reference: spec, Reason: "command: requires a command to run"}
		}
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return "", &BackendError{
				Backend:   "auth command",
				Reference: spec,
				Reason:    fmt.Sprintf("command failed: %v: %s", err, strings.TrimSpace(stderr.String())),
			}
		}
		return strings.TrimSpace(stdout.String()), nil

	default:
		return "", &InvalidReferenceError{Reference: spec, Reason: "expected env:VARNAME, command:..., or null"}
	}
}

// AuthorizationHeader returns the Authorization header value for a resolved
// auth token, or ("", false) when spec resolved to no token (null/empty).
func AuthorizationHeader(ctx context.Context, spec string) (string, bool, error) {
	token, err := ResolveAuth(ctx, spec)
	if err != nil {
		return "", false, err
	}
	if token == "" {
		return "", false, nil
	}
	return "Bearer " + token, true, nil
}
