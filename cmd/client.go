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
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/agentclient"
)

const requestTimeout = 30 * time.Second

func newAgentClient() *agentclient.Client {
	c, err := agentclient.NewClient(agentclient.WithAddr(addr), agentclient.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to create agent client", zap.Error(err))
	}
	return c
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

// exitOnError prints err the way the agent reported it and exits.
func exitOnError(err error) {
	if err == nil {
		return
	}
	var apiErr *agentclient.APIError
	if errors.As(err, &apiErr) {
		fmt.Fprintln(os.Stderr, "Error:", apiErr.Message)
	} else {
		fmt.Fprintln(os.Stderr, "Error:", err.Error())
	}
	os.Exit(1)
}
