package zkcoord

import "strings"

// The underlying client logs one line per request and one per response at
// its default verbosity, which drowns out everything else. The original
// Python agent installed a logging.Filter for exactly this
// (kazoofilter.py); isNoisyZKLog is its generalization.
var noisyZKLogPrefixes = []string{
	"Sending request(",
	"Received response(",
	"Recv loop terminated",
	"Sending request to server",
}

func isNoisyZKLog(format string) bool {
	for _, prefix := range noisyZKLogPrefixes {
		if strings.Contains(format, prefix) {
			return true
		}
	}
	return false
}
