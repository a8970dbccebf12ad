package common

import (
	"io"
	"log"
	"os"
)

var (
	logger = log.New(os.Stderr, "[difgate] ", log.LstdFlags|log.Lmicroseconds)
)

func Logf(format string, args ...interface{}) {
	logger.Printf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatalf(format, args...)
}

// SetOutput redirects the process logger, typically to a rotating file
// configured by the daemon.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}
