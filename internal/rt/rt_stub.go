//go:build !linux

package rt

// Setup is a no-op off Linux.
func Setup(lockMemory bool, priority int) error {
	return nil
}
