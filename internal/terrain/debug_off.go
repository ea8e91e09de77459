//go:build !terraindebug

package terrain

const debugChecks = false
