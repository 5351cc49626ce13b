//go:build !accessdev

package access

// DevLoginAvailable reports whether the development bypass is compiled in.
const DevLoginAvailable = false
