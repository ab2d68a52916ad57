//go:build quicdebug

package transport

import (
	"fmt"
	"os"
)

func debug(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "quic: "+format+"\n", args...)
}
