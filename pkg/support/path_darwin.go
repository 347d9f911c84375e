//go:build darwin
// +build darwin

package support

import (
	"os/user"
	"path/filepath"
)

// CheckPath returns the default agent log file and schedule state file paths for
// the current user.
func CheckPath() (string, string, error) {
	var logPath, statePath string
	user, err := user.Current()
	if err != nil {
		return "", "", err
	}

	if user.Username == "root" {
		logPath = "/var/log/bizfly-folder-backup/bizfly-folder-backup.log"
		statePath = "/var/lib/bizfly-folder-backup/schedule.json"
	} else {
		logPath = filepath.Join(user.HomeDir, "Library", "Logs", "bizfly-folder-backup", "bizfly-folder-backup.log")
		statePath = filepath.Join(user.HomeDir, "Library", "Application Support", "bizfly-folder-backup", "schedule.json")
	}

	return logPath, statePath, nil
}
