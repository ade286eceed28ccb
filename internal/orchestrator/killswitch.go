package orchestrator

import "os"

// killSwitchFileExists reports whether the configured sentinel path
// currently exists on disk. Any stat error other than "not exist" (e.g.
// a permissions problem) is treated as "present" — the safe failure mode
// for a halt switch is to halt, not to trade through an unreadable path.
func killSwitchFileExists(path string) bool {
	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	return !os.IsNotExist(err)
}
