// Package api holds the wire contract shared by the server and its clients.
package api

// Developer endpoint paths.
const (
	PathMisbehave = "/developer/misbehave"
	PathBehave    = "/developer/behave"
	PathSleep     = "/developer/sleep"
	PathAwake     = "/developer/awake"
	PathStatus    = "/developer/status"
)

// DeveloperPaths lists every path under /developer.
var DeveloperPaths = []string{PathMisbehave, PathBehave, PathSleep, PathAwake, PathStatus}

// Flags is a point-in-time copy of both toggles, as served by PathStatus.
type Flags struct {
	Misbehaving bool `json:"misbehaving"`
	Sleeping    bool `json:"sleeping"`
}
