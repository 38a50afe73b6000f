// Package version reports the blockflow build. Version and Commit are set
// at link time:
//
//	go build -ldflags "-X github.com/kbukum/blockflow/version.Version=1.2.0" ./cmd/blockflow
//
// Commit falls back to the VCS revision stamped by the go command.
package version
