// Package security holds the isolation profile resolved per stage.
package security

// IsolationProfile names the rootfs/seccomp/network posture for one stage
// invocation, resolved from a TaskProfile by a ProfileResolver.
type IsolationProfile struct {
	RootFS         string
	SeccompProfile string
	DisableNetwork bool
}
