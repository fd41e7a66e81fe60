package config

import "os"

// SamePath returns true if a and b refer to the same filesystem entry.
// Symlinked or case-folded spellings of one workspace collapse to a single
// recent-list entry. Falls back to exact string comparison when either path
// cannot be stat'd.
func SamePath(a, b string) bool {
	if a == b {
		return true
	}
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return false
	}
	return os.SameFile(infoA, infoB)
}
