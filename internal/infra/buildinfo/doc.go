// Package buildinfo reports the version of the running binary.
//
// Values are injected with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/vmstate-go/internal/infra/buildinfo.Version=v0.3.0"
//
// When a value is not injected, Get falls back to the module and VCS
// data the Go toolchain embeds in the binary.
package buildinfo
