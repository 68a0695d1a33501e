// Package mmarena provides the platform-specific memory that stands in for
// physical RAM. On Linux and macOS the arena is an anonymous mapping; other
// platforms fall back to a heap slice.
package mmarena
