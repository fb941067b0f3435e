package session

import "strings"

// Stderr noise emitted by Node-based CLIs during normal operation. Lines
// matching these patterns are logged at debug level instead of warn so
// routine runtime chatter does not look like a failure.
var informationalPatterns = []string{
	"DeprecationWarning",
	"ExperimentalWarning",
	"punycode",
	"--trace-deprecation",
	"--trace-warnings",
	"(node:",
	"(Use `node",
	"NODE_TLS_REJECT_UNAUTHORIZED",
	"MaxListenersExceededWarning",
}

// isInformational reports whether a stderr line is routine runtime noise
// rather than a real error.
func isInformational(line string) bool {
	for _, p := range informationalPatterns {
		if strings.Contains(line, p) {
			return true
		}
	}
	return false
}
