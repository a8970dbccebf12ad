package common

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Sha256OfFile returns the hex digest and size of the file. Manifest
// items and the report QR stamp both key artifacts by this digest.
func Sha256OfFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), stat.Size(), nil
}
