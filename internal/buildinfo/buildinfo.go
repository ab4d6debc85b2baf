// Package buildinfo exposes version metadata stamped in with -ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Set at build time, e.g.
//
//	go build -ldflags "-X github.com/nugget/gitbot/internal/buildinfo.Version=v1.2.0"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Info returns build and runtime details for the version endpoint.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime returns the time since process start, truncated to seconds.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// UserAgent is sent on every outbound HTTP request.
func UserAgent() string {
	return "gitbot/" + Version
}

// String returns a one-line summary for startup logs.
func String() string {
	return fmt.Sprintf("gitbot %s (%s) built %s", Version, GitCommit, BuildTime)
}
