//go:build !linux && !darwin

package mmarena

import "fmt"

// Map allocates the arena on the Go heap when anonymous mmap is not available.
func Map(size int) ([]byte, func() error, error) {
	if size <= 0 {
		return nil, nil, fmt.Errorf("mmarena: invalid size %d", size)
	}
	return make([]byte, size), func() error { return nil }, nil
}
