// This file is part of bizfly-folder-backup
//
// Copyright (C) 2020  BizFly Cloud
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/backup"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/store"
)

var (
	logLimit      int
	retentionDays int
	runLogDir     string
)

// logsCmd represents the logs command
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the most recent backup log lines.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := requestContext()
		defer cancel()
		lines, err := newAgentClient().Logs(ctx, logLimit)
		exitOnError(err)
		for _, line := range lines {
			fmt.Println(line)
		}
	},
}

// cleanupLogsCmd represents the cleanup-logs command
var cleanupLogsCmd = &cobra.Command{
	Use:   "cleanup-logs",
	Short: "Remove old backup run logs",
	Run: func(cmd *cobra.Command, args []string) {
		days := retentionDays
		if days <= 0 {
			days = viper.GetInt("log_retention_days")
		}

		dir := runLogDir
		if dir == "" {
			dir = viper.GetString("run_log_dir")
		}
		if dir == "" {
			rec, err := store.NewFileStore(viper.GetString("state_file"), store.WithLogger(logger)).Load()
			exitOnError(err)
			if rec == nil {
				fmt.Println("No backup is scheduled, nothing to clean up.")
				return
			}
			dir = backup.NewRunner().LogDir(rec)
		}

		removed, err := backup.PruneLogs(dir, time.Duration(days)*24*time.Hour, time.Now())
		exitOnError(err)
		fmt.Printf("%d old run logs found \n", len(removed))
		for _, path := range removed {
			logger.Debug("removed run log", zap.String("path", path))
			fmt.Printf("removed old run log %s \n", path)
		}
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().IntVar(&logLimit, "limit", 50, "number of lines to print")

	rootCmd.AddCommand(cleanupLogsCmd)
	cleanupLogsCmd.Flags().IntVar(&retentionDays, "days", 0, "remove run logs older than this many days (default log_retention_days)")
	cleanupLogsCmd.Flags().StringVar(&runLogDir, "dir", "", "run log directory (default is the scheduled destination's logs)")
}
