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

// Package dispatch drives one webhook delivery through detection,
// publishing, and the ephemeral-mirror flow.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/forksync/forksync/pkg/detect"
	"github.com/forksync/forksync/pkg/ephemeral"
	"github.com/forksync/forksync/pkg/forge"
	"github.com/forksync/forksync/pkg/linkstore"
)

const defaultMaxConcurrent = 8

// Event is one webhook delivery, already parsed by the transport layer.
type Event struct {
	Platform forge.Platform
	Owner    string
	Name     string

	// Fork reports whether the pushed repository is itself a fork,
	// selecting the single-target flow over the fan-out flow.
	Fork bool
}

// ForkError records one fork whose pipeline failed.
type ForkError struct {
	Fork   string `json:"fork"`
	Reason string `json:"reason"`
}

// Outcome summarizes one dispatch invocation.
type Outcome struct {
	ProposalsOpened int         `json:"proposalsOpened"`
	Skipped         int         `json:"skipped"`
	Errors          []ForkError `json:"errors,omitempty"`
}

// Dispatcher routes webhook events to the sync components. All collaborators
// are injected at construction; nothing reads ambient global state.
type Dispatcher struct {
	forges    forge.ClientSet
	detector  *detect.Detector
	publisher Publisher
	mirrors   MirrorManager
	links     linkstore.Store

	// MaxConcurrent caps concurrently processed forks in the fan-out flow.
	MaxConcurrent int
}

// Publisher is the slice of pkg/proposal the dispatcher needs.
type Publisher interface {
	Publish(ctx context.Context, platform forge.Platform, owner, name, upstreamSHA string) (*forge.Proposal, error)
}

// MirrorManager is the slice of pkg/ephemeral the dispatcher needs.
type MirrorManager interface {
	EnsureAndSync(ctx context.Context, source *forge.Repo) (*forge.Repo, ephemeral.Action, error)
}

func New(forges forge.ClientSet, detector *detect.Detector, publisher Publisher, mirrors MirrorManager, links linkstore.Store) *Dispatcher {
	return &Dispatcher{
		forges:        forges,
		detector:      detector,
		publisher:     publisher,
		mirrors:       mirrors,
		links:         links,
		MaxConcurrent: defaultMaxConcurrent,
	}
}

// HandleWebhook processes one delivery. Only a structurally invalid event is
// a hard error; every per-fork failure is captured in the outcome instead.
// No retries happen here: detection re-derives truth from remote state, so
// the next delivery safely re-evaluates anything that failed.
func (d *Dispatcher) HandleWebhook(ctx context.Context, ev Event) (*Outcome, error) {
	if ev.Owner == "" || ev.Name == "" {
		return nil, fmt.Errorf("event missing repository coordinates")
	}
	if ev.Fork {
		return d.handleForkPush(ctx, ev), nil
	}
	return d.handleUpstreamPush(ctx, ev)
}

// handleForkPush evaluates the single pushed fork.
func (d *Dispatcher) handleForkPush(ctx context.Context, ev Event) *Outcome {
	outcome := &Outcome{}
	d.syncFork(ctx, ev.Platform, ev.Owner, ev.Name, outcome)
	return outcome
}

// handleUpstreamPush fans out across every fork of the pushed repository.
// Forks are processed independently and in no particular order; one fork's
// failure never aborts its siblings.
func (d *Dispatcher) handleUpstreamPush(ctx context.Context, ev Event) (*Outcome, error) {
	client, err := d.forges.ClientFor(ev.Platform)
	if err != nil {
		return nil, err
	}
	forks, err := client.ListForks(ctx, ev.Owner, ev.Name)
	if err != nil {
		return nil, fmt.Errorf("listing forks of %s/%s: %w", ev.Owner, ev.Name, err)
	}

	outcomes := make([]Outcome, len(forks))
	g, gctx := errgroup.WithContext(ctx)
	limit := d.MaxConcurrent
	if limit <= 0 {
		limit = defaultMaxConcurrent
	}
	g.SetLimit(limit)
	for i, fork := range forks {
		i, fork := i, fork
		g.Go(func() error {
			// Failures land in the per-fork outcome slot, never in
			// the group, so siblings keep running.
			d.syncFork(gctx, ev.Platform, fork.Owner, fork.Name, &outcomes[i])
			return nil
		})
	}
	// Goroutines always return nil; Wait only serves as the join point.
	_ = g.Wait()

	total := &Outcome{}
	for _, o := range outcomes {
		total.ProposalsOpened += o.ProposalsOpened
		total.Skipped += o.Skipped
		total.Errors = append(total.Errors, o.Errors...)
	}
	klog.InfoS("fan-out complete", "upstream", ev.Owner+"/"+ev.Name,
		"forks", len(forks), "opened", total.ProposalsOpened,
		"skipped", total.Skipped, "errored", len(total.Errors))
	return total, nil
}

// syncFork runs one fork's pipeline: detect, then publish or mirror-sync.
func (d *Dispatcher) syncFork(ctx context.Context, platform forge.Platform, owner, name string, outcome *Outcome) {
	full := owner + "/" + name

	result, err := d.detector.Detect(ctx, platform, owner, name)
	if err != nil {
		outcome.Errors = append(outcome.Errors, ForkError{Fork: full, Reason: err.Error()})
		return
	}
	if !result.Diverged {
		outcome.Skipped++
		return
	}

	link, err := d.resolveLink(ctx, platform, result.Repo)
	if err != nil {
		outcome.Errors = append(outcome.Errors, ForkError{Fork: full, Reason: err.Error()})
		return
	}
	if link != nil && !link.Enabled {
		klog.V(1).InfoS("sync link disabled, skipping", "fork", full)
		outcome.Skipped++
		return
	}

	if link != nil && link.EphemeralRepo {
		if d.mirrors == nil {
			outcome.Errors = append(outcome.Errors, ForkError{Fork: full, Reason: "ephemeral mirrors not configured"})
			return
		}
		_, action, err := d.mirrors.EnsureAndSync(ctx, result.Repo)
		if err != nil {
			outcome.Errors = append(outcome.Errors, ForkError{Fork: full, Reason: err.Error()})
			return
		}
		if action == ephemeral.ActionProposed {
			outcome.ProposalsOpened++
		} else {
			// First-time mirror creation and an already-open sync
			// proposal both leave the proposal count untouched.
			outcome.Skipped++
		}
		return
	}

	if _, err := d.publisher.Publish(ctx, platform, owner, name, result.UpstreamSHA); err != nil {
		// An equivalent proposal already being open means the work is
		// already proposed; that is a skip, not a failure.
		if errors.Is(err, forge.ErrDuplicateProposal) {
			klog.V(1).InfoS("proposal already open, skipping", "fork", full)
			outcome.Skipped++
			return
		}
		outcome.Errors = append(outcome.Errors, ForkError{Fork: full, Reason: err.Error()})
		return
	}
	outcome.ProposalsOpened++
}

// resolveLink finds the link governing a fork. A link keyed by the fork
// itself wins; otherwise a fork-all link keyed by the fork's upstream
// applies to every fork of that upstream.
func (d *Dispatcher) resolveLink(ctx context.Context, platform forge.Platform, repo *forge.Repo) (*linkstore.Link, error) {
	link, err := d.links.LinkFor(ctx, platform, repo.Owner, repo.Name)
	if err != nil || link != nil {
		return link, err
	}
	if repo.Parent == nil {
		return nil, nil
	}
	return d.links.LinkFor(ctx, platform, repo.Parent.Owner, repo.Parent.Name)
}
