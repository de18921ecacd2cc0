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

package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/forksync/forksync/pkg/detect"
	"github.com/forksync/forksync/pkg/dispatch"
	"github.com/forksync/forksync/pkg/ephemeral"
	"github.com/forksync/forksync/pkg/forge"
	forgegithub "github.com/forksync/forksync/pkg/forge/github"
	forgegitlab "github.com/forksync/forksync/pkg/forge/gitlab"
	"github.com/forksync/forksync/pkg/linkstore"
	"github.com/forksync/forksync/pkg/proposal"
	"github.com/forksync/forksync/pkg/webhook"
)

func NewCommand(ctx context.Context) *cobra.Command {
	return newRunner(ctx).Command
}

func newRunner(ctx context.Context) *runner {
	r := &runner{
		ctx: ctx,
	}
	c := &cobra.Command{
		Use:   "serve",
		Short: "runs the fork synchronization webhook daemon",
		Long:  "runs the fork synchronization webhook daemon",
		RunE:  r.runE,
	}
	c.Flags().StringVar(&r.listen, "listen", ":8080", "address to serve the webhook endpoint on")
	c.Flags().StringVar(&r.githubToken, "github-token", os.Getenv("FORKSYNC_GITHUB_TOKEN"), "GitHub token for user-facing operations")
	c.Flags().StringVar(&r.gitlabToken, "gitlab-token", os.Getenv("FORKSYNC_GITLAB_TOKEN"), "GitLab token for user-facing operations")
	c.Flags().StringVar(&r.serviceAccount, "service-account", "", "account that owns ephemeral mirror repositories")
	c.Flags().StringVar(&r.serviceToken, "service-token", os.Getenv("FORKSYNC_SERVICE_TOKEN"), "token for the ephemeral mirror service account")
	c.Flags().StringVar(&r.linksFile, "links", "", "path to the sync links YAML file")
	c.Flags().StringVar(&r.webhookSecret, "webhook-secret", os.Getenv("FORKSYNC_WEBHOOK_SECRET"), "secret for webhook signature validation (empty disables validation)")
	c.Flags().IntVar(&r.maxConcurrent, "max-concurrent", 8, "maximum forks processed concurrently per fan-out")
	r.Command = c
	return r
}

type runner struct {
	ctx     context.Context
	Command *cobra.Command

	listen         string
	githubToken    string
	gitlabToken    string
	serviceAccount string
	serviceToken   string
	linksFile      string
	webhookSecret  string
	maxConcurrent  int
}

func (r *runner) runE(cmd *cobra.Command, args []string) error {
	forges := forge.Set{}
	if r.githubToken != "" {
		forges[forge.GitHub] = forgegithub.NewClient(r.ctx, r.githubToken)
	}
	if r.gitlabToken != "" {
		glc, err := forgegitlab.NewClient(r.gitlabToken)
		if err != nil {
			return err
		}
		forges[forge.GitLab] = glc
	}
	if len(forges) == 0 {
		return fmt.Errorf("no hosting platform configured; set --github-token or --gitlab-token")
	}

	var links linkstore.Store = linkstore.Static(nil)
	if r.linksFile != "" {
		loaded, err := linkstore.LoadFile(r.linksFile)
		if err != nil {
			return err
		}
		links = loaded
		klog.InfoS("loaded sync links", "path", r.linksFile, "count", len(loaded))
	}

	detector := detect.New(forges)
	publisher := proposal.New(forges)

	var mirrors dispatch.MirrorManager
	if r.serviceAccount != "" && r.serviceToken != "" {
		userClient, ok := forges[forge.GitHub]
		if !ok {
			return fmt.Errorf("ephemeral mirrors require a GitHub client; set --github-token")
		}
		serviceClient := forgegithub.NewClient(r.ctx, r.serviceToken)
		mirrors = ephemeral.NewManager(serviceClient, userClient, r.serviceAccount)
	}

	dispatcher := dispatch.New(forges, detector, publisher, mirrors, links)
	dispatcher.MaxConcurrent = r.maxConcurrent

	mux := http.NewServeMux()
	mux.Handle("/webhook", webhook.NewHandler(dispatcher, forges, r.webhookSecret))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{
		Addr:              r.listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		klog.InfoS("serving webhook endpoint", "addr", r.listen)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-r.ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
