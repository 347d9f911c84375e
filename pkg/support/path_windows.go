package support

// CheckPath returns the default agent log file and schedule state file paths.
func CheckPath() (string, string, error) {
	logPath := "C:\\Program Files\\bizfly-folder-backup\\log\\bizfly-folder-backup.log"
	statePath := "C:\\Program Files\\bizfly-folder-backup\\lib\\schedule.json"

	return logPath, statePath, nil
}
