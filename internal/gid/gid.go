// Package gid exposes the runtime id of the calling goroutine, as printed
// in stack trace headers.
package gid

import (
	"bytes"
	"runtime"
	"strconv"
)

var stackPrefix = []byte("goroutine ")

// ID returns the id of the calling goroutine.
func ID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, stackPrefix)
	i := bytes.IndexByte(buf, ' ')
	if i < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(buf[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
