//go:build race

package moderation

// raceDetectorEnabled reports whether the build has the race detector
// enabled, used to relax latency assertions in tests.
const raceDetectorEnabled = true
