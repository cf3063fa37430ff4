package worker

import "strings"

// permanentMarkers identify failures that retrying cannot fix. Matching
// is substring-based because errors cross process boundaries (RPC
// bodies, broker headers) as text.
var permanentMarkers = []string{
	"transaction not found",
	"invalid signature",
	"validation error",
	"parse error",
}

// IsPermanent reports whether an error should be acked rather than
// retried. Anything unclassified counts as transient.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
