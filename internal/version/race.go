//go:build race

package version

// isRace is true when the binary is built with the race detector enabled.
const isRace = true
