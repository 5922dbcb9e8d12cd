package rawimage

import (
	"fmt"
	"os"
)

var debugEnabled = os.Getenv("DNG_DEBUG") != ""

func debug(format string, args ...interface{}) {
	if debugEnabled {
		fmt.Fprintf(os.Stderr, "rawimage: "+format+"\n", args...)
	}
}
