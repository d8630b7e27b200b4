// Package version holds the release of the s2 binary.
package version

// Flag marks development builds. Release builds leave it empty.
const Flag = ""

var (
	// Version is the full version string, printed by `s2 version` and logged
	// when the node starts.
	Version = "0.3.0"

	// GitCommit is set with --ldflags "-X github.com/mosaicnetworks/s2/src/version.GitCommit=$(git rev-parse HEAD)"
	GitCommit string
)

func init() {
	if Flag != "" {
		Version += "-" + Flag
	}

	if len(GitCommit) >= 8 {
		Version += "-" + GitCommit[:8]
	}
}
