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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/schedule"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/sink"
)

var runLocal bool

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a backup immediately.",
	Long: `Run a backup immediately. By default the agent runs its scheduled backup now.
With --local the backup of --source into --destination runs in this process.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !runLocal {
			ctx, cancel := requestContext()
			defer cancel()
			id, err := newAgentClient().RunNow(ctx)
			exitOnError(err)
			fmt.Println("Backup started, run ID:", id)
			return
		}

		// frequency only matters to the scheduler
		rec, err := schedule.New(sourcePath, destinationPath, 1, schedule.Days)
		exitOnError(err)
		runner, err := newRunner(logger)
		exitOnError(err)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		res, err := runner.Run(ctx, rec, sink.NewWriter(os.Stdout))
		exitOnError(err)
		fmt.Printf("Copied %d files, %s in %s. Log: %s\n",
			res.Files, humanize.IBytes(res.BytesCopied), res.FinishedAt.Sub(res.StartedAt), res.LogFilePath)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runLocal, "local", false, "run in this process instead of the agent")
	runCmd.Flags().StringVar(&sourcePath, "source", "", "folder to back up (with --local)")
	runCmd.Flags().StringVar(&destinationPath, "destination", "", "folder to copy the backup into (with --local)")
}
