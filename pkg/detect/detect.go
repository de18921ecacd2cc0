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

// Package detect determines whether a fork has drifted from its upstream.
package detect

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/forksync/forksync/pkg/forge"
)

// Result reports the outcome of one divergence check. It is consumed
// immediately by the caller and never persisted.
type Result struct {
	// Repo is the freshly fetched fork snapshot, Parent included.
	Repo *forge.Repo

	Diverged bool

	// BaseSHA is the fork's default-branch head, UpstreamSHA the parent's.
	BaseSHA     string
	UpstreamSHA string
}

// Detector checks forks for divergence from their upstream.
type Detector struct {
	forges forge.ClientSet
}

func New(forges forge.ClientSet) *Detector {
	return &Detector{forges: forges}
}

// Detect fetches owner/name and compares its default-branch head against the
// parent's. It fails with forge.ErrNotAFork before issuing any branch fetch
// when the repository has no parent.
func (d *Detector) Detect(ctx context.Context, platform forge.Platform, owner, name string) (*Result, error) {
	client, err := d.forges.ClientFor(platform)
	if err != nil {
		return nil, err
	}

	repo, err := client.GetRepo(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("fetching %s/%s: %w", owner, name, err)
	}
	if !repo.Fork || repo.Parent == nil {
		return nil, fmt.Errorf("%s/%s: %w", owner, name, forge.ErrNotAFork)
	}

	// The two heads are independent; fetch them concurrently. Either
	// failure fails the whole detection.
	var baseSHA, upstreamSHA string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		baseSHA, err = client.GetBranchHead(gctx, repo.Owner, repo.Name, repo.DefaultBranch)
		return err
	})
	g.Go(func() error {
		var err error
		upstreamSHA, err = client.GetBranchHead(gctx, repo.Parent.Owner, repo.Parent.Name, repo.Parent.DefaultBranch)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetching branch heads for %s/%s: %w", owner, name, err)
	}

	result := &Result{
		Repo:        repo,
		Diverged:    baseSHA != upstreamSHA,
		BaseSHA:     baseSHA,
		UpstreamSHA: upstreamSHA,
	}
	klog.V(2).InfoS("divergence check",
		"repo", repo.FullName(), "upstream", repo.Parent.FullName(),
		"diverged", result.Diverged, "base", baseSHA, "upstream", upstreamSHA)
	return result, nil
}
