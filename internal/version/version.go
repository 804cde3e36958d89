// Package version holds the build version, overridable at link time.
package version

// Version is the engine version string. Set via:
//
//	go build -ldflags "-X github.com/kagaztrade/kagaz/internal/version.Version=x.y.z"
var Version = "0.4.0"
