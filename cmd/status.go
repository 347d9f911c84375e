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
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/bizflycloud/bizflyctl/formatter"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/progress"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/scheduler"
)

const displayTimeLayout = "2006-01-02 15:04:05"

var (
	statusHeaders = []string{"State", "Source", "Destination", "Every", "Next Run", "Progress", "ETA", "Last Run"}
	outputFormat  string
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the backup schedule and the progress of a running backup.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := requestContext()
		defer cancel()
		st, err := newAgentClient().Status(ctx)
		exitOnError(err)

		switch outputFormat {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			exitOnError(enc.Encode(st))
		case "yaml":
			out, err := yaml.Marshal(st)
			exitOnError(err)
			fmt.Print(string(out))
		default:
			formatter.Output(statusHeaders, [][]string{statusRow(st)})
		}
	},
}

func statusRow(st *scheduler.Status) []string {
	row := []string{string(st.State), "-", "-", "-", "-", "-", "-", "-"}
	if st.Schedule != nil {
		row[1] = st.Schedule.SourcePath
		row[2] = st.Schedule.DestinationPath
		row[3] = strconv.Itoa(st.Schedule.Frequency) + " " + st.Schedule.TimeUnit.String()
	}
	if st.NextRunAt != nil {
		row[4] = humanize.Time(*st.NextRunAt)
	}
	if st.State == scheduler.Running {
		row[5] = fmt.Sprintf("%.1f%% (%s / %s)", st.Percent, humanize.IBytes(st.BytesCopied), humanize.IBytes(st.TotalBytes))
		row[6] = progress.FormatETA(st.ETA)
	}
	if st.LastRun != nil {
		row[7] = humanize.Time(st.LastRun.FinishedAt)
		if st.LastRun.Error != "" {
			row[7] += " (failed: " + st.LastRun.Error + ")"
		}
	}
	return row
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, yaml or json")
}
