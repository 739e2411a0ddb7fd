// Package version reports the e2ekit build.
//
// Release builds set the version at link time:
//
//	go build -ldflags "-X github.com/kbukum/e2ekit/version.Version=1.4.0" ./cmd/e2ekit
//
// Development builds fall back to the VCS stamp the go command embeds.
package version
