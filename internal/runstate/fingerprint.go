package runstate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
)

// Fingerprint hashes a stage's resolved inputs and params so a prior
// artifact can be detected as stale when either changes. Keys are hashed in
// sorted order for stability.
func Fingerprint(inputs map[string]string, params map[string]any) string {
	h := sha256.New()

	inputKeys := make([]string, 0, len(inputs))
	for k := range inputs {
		inputKeys = append(inputKeys, k)
	}
	sort.Strings(inputKeys)
	for _, k := range inputKeys {
		io.WriteString(h, "in:"+k+"="+inputs[k]+"\n")
	}

	paramKeys := make([]string, 0, len(params))
	for k := range params {
		paramKeys = append(paramKeys, k)
	}
	sort.Strings(paramKeys)
	for _, k := range paramKeys {
		fmt.Fprintf(h, "param:%s=%v\n", k, params[k])
	}

	return hex.EncodeToString(h.Sum(nil))
}
