// Package version holds build information injected with -ldflags:
//
//	go build -ldflags "-X github.com/jackzampolin/ocrpdf/version.GitRelease=v0.1.0 \
//	  -X github.com/jackzampolin/ocrpdf/version.GitCommit=$(git rev-parse HEAD)"
package version

import (
	"fmt"
	"runtime"
)

var (
	// GitRelease is the release tag.
	GitRelease = "dev"
	// GitCommit is the full commit hash.
	GitCommit = "unknown"
	// GitCommitDate is the commit timestamp.
	GitCommitDate = "unknown"

	// GoInfo describes the toolchain and platform.
	GoInfo = fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
)
