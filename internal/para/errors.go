package para

import "strings"

// isRevert reports whether an eth_call or eth_estimateGas error is an EVM
// revert rather than a transport failure. Node implementations disagree on
// the exact message, so this matches the common spellings.
func isRevert(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"execution reverted",
		"vm exception",
		"revert",
		"out of gas",
		"gas required exceeds allowance",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
