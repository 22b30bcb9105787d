package util

import (
	"os"
	"time"
)

// FileExists checks if given file exists
func FileExists(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Seconds converts d into the fractional seconds Tarantool
// expects for timeouts, TTLs and delays.
func Seconds(d time.Duration) float64 {
	return d.Seconds()
}
