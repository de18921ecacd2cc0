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

// Package proposal opens merge proposals that carry upstream commits into a
// fork, guarding against duplicates.
package proposal

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/forksync/forksync/pkg/forge"
)

// Publisher opens upstream-to-fork merge proposals.
type Publisher struct {
	forges forge.ClientSet
}

func New(forges forge.ClientSet) *Publisher {
	return &Publisher{forges: forges}
}

// Publish re-fetches owner/name and opens a proposal merging the parent's
// default branch into the fork's. It fails with forge.ErrNotAFork when the
// repository has no parent, forge.ErrNotFound when it does not exist, and
// forge.ErrDuplicateProposal when an open proposal already carries
// upstreamSHA; callers treat the last as a benign no-op.
//
// The duplicate check is list-then-create and therefore not atomic: two
// concurrent deliveries can both pass the check. The window is accepted,
// since the host offers no compare-and-swap, and the host's own rejection
// of an identical open head/base pair is the backstop.
func (p *Publisher) Publish(ctx context.Context, platform forge.Platform, owner, name, upstreamSHA string) (*forge.Proposal, error) {
	client, err := p.forges.ClientFor(platform)
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
	upstream := repo.Parent

	head := upstream.Owner + ":" + upstream.DefaultBranch
	existing, err := client.ListOpenProposals(ctx, repo.Owner, repo.Name, head)
	if err != nil {
		return nil, fmt.Errorf("listing open proposals on %s: %w", repo.FullName(), err)
	}
	for _, prop := range existing {
		if prop.HeadSHA == upstreamSHA {
			return nil, fmt.Errorf("proposal %q already open on %s: %w",
				prop.Title, repo.FullName(), forge.ErrDuplicateProposal)
		}
	}

	title := fmt.Sprintf("Update from upstream %s", upstream.FullName())
	body := fmt.Sprintf(
		"Merges new commits from [%s](%s) `%s` into `%s`.\n\nOpened automatically because this fork's branch head no longer matches its upstream.",
		upstream.FullName(), upstream.HTMLURL, upstream.DefaultBranch, repo.DefaultBranch,
	)
	created, err := client.CreateProposal(ctx, repo.Owner, repo.Name, title, head, repo.DefaultBranch, body)
	if err != nil {
		return nil, fmt.Errorf("creating proposal on %s: %w", repo.FullName(), err)
	}
	klog.InfoS("opened merge proposal", "repo", repo.FullName(), "number", created.Number, "head", head)
	return created, nil
}
