package config

// Set at link time:
//
//	go build -ldflags "-X forwardgate/internal/config.version=1.4.0 \
//	    -X forwardgate/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X forwardgate/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the linker-injected build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// String renders the build as "version (commit, time)" for startup logs.
func (b BuildInfo) String() string {
	return b.Version + " (" + b.Commit + ", " + b.BuildTime + ")"
}
