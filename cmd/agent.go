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
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/backup"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/broker"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/broker/mqtt"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/limiter"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/logging"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/mirror"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/scheduler"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/server"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/sink"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/store"
)

const (
	recentLogLines = 1000
	retentionSpec  = "@daily"
)

// agentCmd represents the agent command
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run agent.",
	Run: func(cmd *cobra.Command, args []string) {
		agentLogger, err := logging.New(viper.GetString("log_file"), debug)
		if err != nil {
			logger.Fatal("failed to create agent logger", zap.Error(err))
		}
		defer func() { _ = agentLogger.Sync() }()

		runner, err := newRunner(agentLogger)
		if err != nil {
			agentLogger.Fatal("invalid backup settings", zap.Error(err))
		}

		machineID := viper.GetString("machine_id")
		if machineID == "" {
			machineID, _ = os.Hostname()
		}

		ring := sink.NewRing(recentLogLines)
		sinks := sink.Multi{sink.NewLogger(agentLogger), ring}

		var b broker.Broker
		if brokerURL := viper.GetString("broker_url"); brokerURL != "" {
			mb, err := mqtt.NewBroker(mqtt.WithURL(brokerURL), mqtt.WithClientID(machineID), mqtt.WithLogger(agentLogger))
			if err != nil {
				agentLogger.Fatal("failed to create broker", zap.Error(err))
			}
			b = mb
			sinks = append(sinks, sink.NewBroker(b, mqtt.EventsTopic(machineID), machineID, agentLogger))
		}

		dispatcher := sink.NewDispatcher(sinks,
			sink.WithBufferSize(viper.GetInt("sink_buffer")),
			sink.WithLogger(agentLogger),
		)

		var s *server.Server
		st := store.NewFileStore(viper.GetString("state_file"), store.WithLogger(agentLogger))
		sched := scheduler.New(st, runner,
			scheduler.WithDispatcher(dispatcher),
			scheduler.WithLogger(agentLogger),
			scheduler.OnRunFinished(func(*backup.Result) {
				if s != nil {
					s.PublishStatus()
				}
			}),
		)

		opts := []server.Option{
			server.WithAddr(addr),
			server.WithScheduler(sched),
			server.WithLogSource(ring),
			server.WithMachineID(machineID),
			server.WithLogger(agentLogger),
		}
		if b != nil {
			opts = append(opts,
				server.WithBroker(b),
				server.WithSubscribeTopics(mqtt.CommandTopics(machineID)...),
				server.WithPublishTopic(mqtt.EventsTopic(machineID)),
			)
		}
		s, err = server.New(opts...)
		if err != nil {
			agentLogger.Fatal("failed to create new server", zap.Error(err))
		}

		if err := sched.Resume(); err != nil {
			agentLogger.Error("failed to resume backup schedule", zap.Error(err))
		}

		ctx, cancel := context.WithCancel(context.Background())
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer cancel()
			agentLogger.Debug("Listening address: " + addr)
			if err := s.Run(gctx); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			return runRetention(gctx, sched, runner, agentLogger)
		})

		err = g.Wait()
		sched.Close()
		if err != nil {
			agentLogger.Fatal("agent failed", zap.Error(err))
		}
		agentLogger.Info("agent stopped", zap.Uint64("dropped_sink_events", dispatcher.Dropped()))
	},
}

// newRunner builds the backup runner from the agent settings.
func newRunner(l *zap.Logger) (*backup.Runner, error) {
	policy, err := mirror.ParseErrorPolicy(viper.GetString("error_policy"))
	if err != nil {
		return nil, err
	}
	copyOpts := []mirror.Option{
		mirror.WithErrorPolicy(policy),
		mirror.WithVerify(viper.GetBool("verify")),
	}
	readKiB, writeKiB := viper.GetInt("limit_read_kib"), viper.GetInt("limit_write_kib")
	if readKiB > 0 || writeKiB > 0 {
		copyOpts = append(copyOpts, mirror.WithLimiter(limiter.NewStaticLimiter(readKiB*1024, writeKiB*1024)))
	}
	return backup.NewRunner(
		backup.WithCopyOptions(copyOpts...),
		backup.WithLogDir(viper.GetString("run_log_dir")),
		backup.WithLogger(l),
	), nil
}

// runRetention prunes old run logs of the current schedule once a day until ctx
// is done.
func runRetention(ctx context.Context, sched *scheduler.Scheduler, runner *backup.Runner, l *zap.Logger) error {
	days := viper.GetInt("log_retention_days")
	if days <= 0 {
		return nil
	}
	c := cron.New(cron.WithLogger(cron.PrintfLogger(zap.NewStdLog(l))))
	_, err := c.AddFunc(retentionSpec, func() {
		st := sched.Status()
		if st.Schedule == nil {
			return
		}
		dir := runner.LogDir(st.Schedule)
		removed, err := backup.PruneLogs(dir, time.Duration(days)*24*time.Hour, time.Now())
		if err != nil {
			l.Warn("failed to prune run logs", zap.String("dir", dir), zap.Error(err))
			return
		}
		if len(removed) > 0 {
			l.Info("pruned run logs", zap.String("dir", dir), zap.Int("count", len(removed)))
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func init() {
	rootCmd.AddCommand(agentCmd)
}
