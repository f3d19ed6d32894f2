// Package guard forces test mode for any test binary that imports it, so
// cmd entrypoints and SkipStartup never dial Postgres or Redis under go test.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("ODYSSEY_TEST_MODE") == "" {
			_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
		}
	})
}
