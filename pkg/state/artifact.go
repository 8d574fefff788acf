package state

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	artifactOnce sync.Once
	artifactRoot string
)

// ArtifactRoot returns the absolute SKILLSWAP_ARTIFACT_ROOT, or "" when unset.
func ArtifactRoot() string {
	artifactOnce.Do(func() {
		c := os.Getenv("SKILLSWAP_ARTIFACT_ROOT")
		if strings.TrimSpace(c) == "" {
			return
		}
		if abs, err := filepath.Abs(c); err == nil {
			artifactRoot = abs
		} else {
			artifactRoot = c
		}
	})
	return artifactRoot
}
