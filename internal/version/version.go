// Package version holds the linkstage release version.
package version

// Version is overridden at build time with:
//
//	go build -ldflags "-X github.com/AaronLay10/linkstage/internal/version.Version=x.y.z"
var Version = "0.1.0"
