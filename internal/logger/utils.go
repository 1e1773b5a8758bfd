package logger

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Parses the goroutine id from the stack header, debugging aid only.
func goroutineID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	b = b[:bytes.IndexByte(b, ' ')]
	n, _ := strconv.ParseUint(string(b), 10, 64)
	return n
}

// Returns caller with last two directories.
func consoleFormatCallerLastTwoDirs(i interface{}) string {
	c, _ := i.(string)
	split := strings.Split(c, string(os.PathSeparator))
	if l := len(split); l > 2 {
		return fmt.Sprintf("%s/%s/%s", split[l-3], split[l-2], split[l-1])
	}
	return c
}
