//go:build !linux

package pressure

func totalSystemMemory() (uint64, error) {
	return 0, errNoSystemMemory
}
