// Package version exposes build-time version metadata.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
)

var (
	// Version is the current KokoroFlow version, injected at build time.
	Version = "dev"

	// GitCommit is the git commit SHA that was built, injected at build time.
	GitCommit = "unknown"
)

// Info carries the resolved version details for display.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	GoVersion string `json:"goVersion"`
}

// Get returns the version information for the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
	}
}

func (i Info) String() string {
	return fmt.Sprintf("Version: %s, GitCommit: %s, Go: %s", i.Version, i.GitCommit, i.GoVersion)
}

// JSON renders the version info as indented JSON.
func (i Info) JSON() (string, error) {
	bytes, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
