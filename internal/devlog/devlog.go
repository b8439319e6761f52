package devlog

import (
	"fmt"
	"os"
	"time"
)

// debugAI enables verbose model request/response logging
var debugAI = os.Getenv("AIK_DEBUG_AI") != ""

// Printf prints a timestamped message to stdout.
// Format: "15:04:05.000 [Tag] message\n"
func Printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Printf("%s %s\n", time.Now().Format("15:04:05.000"), msg)
}

// Debugf prints only when AIK_DEBUG_AI is set.
func Debugf(format string, args ...any) {
	if debugAI {
		Printf(format, args...)
	}
}
