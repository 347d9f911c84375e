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

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/schedule"
)

var (
	sourcePath      string
	destinationPath string
	frequency       int
	timeUnit        string
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Schedule a recurring backup of a folder.",
	Run: func(cmd *cobra.Command, args []string) {
		unit, err := schedule.ParseTimeUnit(timeUnit)
		exitOnError(err)

		ctx, cancel := requestContext()
		defer cancel()
		rec, err := newAgentClient().StartBackup(ctx, sourcePath, destinationPath, frequency, unit)
		exitOnError(err)

		fmt.Printf("Backing up %s to %s every %d %s, next run %s (%s)\n",
			rec.SourcePath, rec.DestinationPath, rec.Frequency, rec.TimeUnit,
			humanize.Time(rec.NextRunAt), rec.NextRunAt.Local().Format(displayTimeLayout))
	},
}

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the scheduled backup.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := requestContext()
		defer cancel()
		exitOnError(newAgentClient().StopBackup(ctx))
		fmt.Println("Backup schedule stopped.")
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringVar(&sourcePath, "source", "", "folder to back up")
	startCmd.Flags().StringVar(&destinationPath, "destination", "", "folder to copy the backup into")
	startCmd.Flags().IntVar(&frequency, "frequency", 1, "number of time units between two runs")
	startCmd.Flags().StringVar(&timeUnit, "unit", string(schedule.Days), "time unit: seconds, minutes, hours or days")
	_ = startCmd.MarkFlagRequired("source")
	_ = startCmd.MarkFlagRequired("destination")

	rootCmd.AddCommand(stopCmd)
}
