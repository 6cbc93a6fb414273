// Package version holds the build-time version string, overridable via
// -ldflags "-X github.com/asus-linux/supergfxd/pkg/version.Version=...".
package version

// Version is reported by the status command and the GetVersion RPC.
var Version = "dev"
