package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ccimen/scc/internal/orgconfig"
	"github.com/ccimen/scc/internal/scerr"
)

const safetyNetContainerPath = "/etc/scc/safety-net.json"

// WriteSafetyNetMount implements spec §4.9 step 4: when the org carries a
// safety-net configuration, write it to a temp file and return it as a
// read-only extra mount. The read-only flag is kernel-enforced by the
// runtime's bind mount, which is how the policy stays unmodifiable from
// inside the sandbox.
func WriteSafetyNetMount(tempDir string, sn *orgconfig.SafetyNet) (ExtraMount, bool, error) {
	if sn == nil {
		return ExtraMount{}, false, nil
	}
	data, err := sn.MarshalJSON()
	if err != nil {
		return ExtraMount{}, false, fmt.Errorf("encoding safety-net config: %w", err)
	}
	if err := os.MkdirAll(tempDir, 0o700); err != nil {
		return ExtraMount{}, false, scerr.WrapConfigError(fmt.Sprintf("creating temp directory %s", tempDir), err)
	}
	path := filepath.Join(tempDir, "safety-net.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return ExtraMount{}, false, scerr.WrapConfigError(fmt.Sprintf("writing %s", path), err)
	}
	return ExtraMount{Host: path, Ctr: safetyNetContainerPath, ReadOnly: true}, true, nil
}
