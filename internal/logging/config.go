package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

const envVar = "LOGLEVEL"

var configMu sync.RWMutex

var tagLevels []struct {
	tag   string
	level Level
}

func init() {
	if err := Configure(os.Getenv(envVar)); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", envVar, err)
	}
}

// Configure applies comma-separated "tag=level" directives. A directive
// without "tag=" sets the default level. Loggers derived afterwards pick up
// the new levels, as do existing loggers that are not pinned.
func Configure(directives string) error {
	configMu.Lock()
	defer configMu.Unlock()

	var firstErr error
	for _, d := range strings.Split(directives, ",") {
		if d == "" {
			continue
		}
		v := strings.SplitN(d, "=", 2)
		level, err := parseLevel(v[len(v)-1])
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("invalid directive '%s': %v", d, err)
			}
			continue
		}
		if len(v) == 1 {
			defaultLevel = level
		} else {
			tagLevels = append(tagLevels, struct {
				tag   string
				level Level
			}{v[0], level})
		}
	}

	return firstErr
}

func currentDefault() Level {
	configMu.RLock()
	defer configMu.RUnlock()
	return defaultLevel
}

func determineLevel(tag string, fallback Level) Level {
	configMu.RLock()
	defer configMu.RUnlock()
	// Later directives override earlier ones.
	for i := len(tagLevels) - 1; i >= 0; i-- {
		if tagLevels[i].tag == tag {
			return tagLevels[i].level
		}
	}
	return fallback
}
