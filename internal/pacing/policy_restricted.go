//go:build !unrestricted

package pacing

const buildUnrestricted = false
