package opcode

import (
	"fmt"
	"os"
)

var debugEnabled = os.Getenv("DNG_DEBUG") != ""

func debug(format string, args ...interface{}) {
	if debugEnabled {
		fmt.Fprintf(os.Stderr, "opcode: "+format+"\n", args...)
	}
}
