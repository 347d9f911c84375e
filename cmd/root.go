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
	"os"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/support"
)

const (
	defaultPort             = 9000
	localhost               = "127.0.0.1"
	defaultErrorPolicy      = "abort"
	defaultLogRetentionDays = 30
	defaultSinkBuffer       = 1024
)

var (
	cfgFile string
	addr    string
	debug   bool
	logger  *zap.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bizfly-folder-backup",
	Short: "BizFly Cloud folder backup agent.",
	Long:  `BizFly Cloud folder backup agent mirrors a source folder into a destination folder on a recurring schedule.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			fmt.Println(err)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if debug {
			logger.Error(err.Error())
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.bizfly-folder-backup.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug (default is false)")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "", "address of agent server, host:port or unix:///path/to.sock")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	newLogger := zap.NewProduction
	if debug {
		newLogger = zap.NewDevelopment
	}
	var err error
	if logger, err = newLogger(); err != nil {
		panic(err)
	}

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			logger.Error(err.Error())
			os.Exit(1)
		}

		// Search config in home directory with name ".bizfly-folder-backup" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".bizfly-folder-backup")
	}

	// Set default value for config
	viper.SetDefault("port", defaultPort)
	viper.SetDefault("error_policy", defaultErrorPolicy)
	viper.SetDefault("log_retention_days", defaultLogRetentionDays)
	viper.SetDefault("sink_buffer", defaultSinkBuffer)
	if logPath, statePath, err := support.CheckPath(); err == nil {
		viper.SetDefault("log_file", logPath)
		viper.SetDefault("state_file", statePath)
	} else {
		logger.Warn("failed to resolve default paths", zap.Error(err))
	}

	viper.SetEnvPrefix("bizfly_folder_backup")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		logger.Debug("Using config file: " + viper.ConfigFileUsed())
	}

	// Set value
	if addr == "" {
		addr = viper.GetString("addr")
	}
	if addr == "" {
		addr = strings.Join([]string{localhost, viper.GetString("port")}, ":")
	}
}
