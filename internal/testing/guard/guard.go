// Package guard flips the service into test mode as a side effect of being
// imported, so test packages cannot accidentally run against live config.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("HARBORLINE_TEST_MODE") == "" {
			_ = os.Setenv("HARBORLINE_TEST_MODE", "1")
		}
	})
}
