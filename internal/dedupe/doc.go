// Package dedupe provides a time-based cache for suppressing duplicate
// task submissions within a configurable window.
package dedupe
