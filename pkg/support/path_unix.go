//go:build linux
// +build linux

package support

import (
	"os/user"
	"path/filepath"
)

// CheckPath returns the default agent log file and schedule state file paths for
// the current user.
func CheckPath() (string, string, error) {
	var logPath, statePath string
	currentUser, err := user.Current()
	if err != nil {
		return "", "", err
	}

	if currentUser.Username == "root" {
		logPath = "/var/log/bizfly-folder-backup/bizfly-folder-backup.log"
		statePath = "/var/lib/bizfly-folder-backup/schedule.json"
	} else {
		logPath = filepath.Join(currentUser.HomeDir, ".bizfly-folder-backup", "log", "bizfly-folder-backup.log")
		statePath = filepath.Join(currentUser.HomeDir, ".bizfly-folder-backup", "schedule.json")
	}

	return logPath, statePath, nil
}
