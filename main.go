// Copyright 2026 The forksync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/forksync/forksync/cli/serve"
)

func main() {
	klog.InitFlags(flag.CommandLine)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cobra.Command{
		Use:   "forksyncd",
		Short: "keeps forked repositories synchronized with their upstreams",
		Long:  "forksyncd watches hosting-platform webhooks and opens merge proposals that carry upstream commits into diverged forks.",
	}
	cmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	cmd.AddCommand(serve.NewCommand(ctx))

	if err := cmd.ExecuteContext(ctx); err != nil {
		klog.ErrorS(err, "exiting")
		os.Exit(1)
	}
}
