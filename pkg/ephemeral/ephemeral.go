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

// Package ephemeral maintains service-account-owned mirror repositories.
// A mirror is neutral ground where the fork's owner resolves merge conflicts
// without polluting their own branch history; this package only handles the
// mirror's lifecycle (create once, sync on every later invocation), never
// conflict resolution.
package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/forksync/forksync/pkg/forge"
)

// Action reports what EnsureAndSync did to the mirror, so callers can
// account for the invocation truthfully: only ActionProposed opened a new
// proposal.
type Action int

const (
	// ActionCreated means the mirror was forked and configured for the
	// first time. No proposal exists yet.
	ActionCreated Action = iota
	// ActionProposed means a sync proposal was opened on the existing
	// mirror.
	ActionProposed
	// ActionAlreadyProposed means an equivalent sync proposal was already
	// open and nothing new was created.
	ActionAlreadyProposed
)

// Manager creates and refreshes ephemeral mirrors under the service account.
type Manager struct {
	// service operates as the service account that owns the mirrors.
	service forge.Client
	// user operates as the triggering user; it re-fetches source truth so
	// the mirror is always derived from current state.
	user forge.Client

	serviceAccount string
}

func NewManager(service, user forge.Client, serviceAccount string) *Manager {
	return &Manager{service: service, user: user, serviceAccount: serviceAccount}
}

// MirrorName derives the mirror repository name for a source repository.
// Pure and deterministic: the same source pair always maps to the same name,
// which is what makes the existence probe idempotent across invocations.
func MirrorName(owner, name string) string {
	return strings.ToLower(fmt.Sprintf("sync-%s-%s", owner, name))
}

// EnsureAndSync probes for the source's mirror under the service account,
// creating it on the first invocation and merging the source's current
// branch into it on every later one. Only an explicit not-found drives the
// create branch; any other probe failure propagates as a hard error.
func (m *Manager) EnsureAndSync(ctx context.Context, source *forge.Repo) (*forge.Repo, Action, error) {
	fresh, err := m.user.GetRepo(ctx, source.Owner, source.Name)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching source %s/%s: %w", source.Owner, source.Name, err)
	}
	source = fresh

	mirrorName := MirrorName(source.Owner, source.Name)
	mirror, err := m.service.GetRepo(ctx, m.serviceAccount, mirrorName)
	switch {
	case err == nil:
		return m.syncExisting(ctx, source, mirror)
	case forge.IsNotFound(err):
		return m.create(ctx, source, mirrorName)
	default:
		return nil, 0, fmt.Errorf("probing mirror %s/%s: %w", m.serviceAccount, mirrorName, err)
	}
}

func (m *Manager) create(ctx context.Context, source *forge.Repo, mirrorName string) (*forge.Repo, Action, error) {
	klog.InfoS("creating ephemeral mirror", "source", source.FullName(), "mirror", m.serviceAccount+"/"+mirrorName)

	forked, err := m.service.ForkRepo(ctx, source.Owner, source.Name)
	if err != nil {
		return nil, 0, fmt.Errorf("forking %s into %s: %w", source.FullName(), m.serviceAccount, err)
	}

	description := fmt.Sprintf("Ephemeral sync mirror of %s. Resolve merge conflicts here; changes flow back via merge proposal.", source.FullName())
	mirror, err := m.service.EditRepo(ctx, forked.Owner, forked.Name, forge.RepoEdit{
		Name:        &mirrorName,
		Description: &description,
		Homepage:    &source.HTMLURL,
		Private:     &source.Private,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("renaming mirror of %s: %w", source.FullName(), err)
	}

	// The source owner resolves conflicts in the mirror, so they need push
	// access to it.
	if err := m.service.AddCollaborator(ctx, mirror.Owner, mirror.Name, source.Owner, "push"); err != nil {
		return nil, 0, fmt.Errorf("granting %s access to mirror %s: %w", source.Owner, mirror.FullName(), err)
	}

	mirror.Fork = true
	return mirror, ActionCreated, nil
}

func (m *Manager) syncExisting(ctx context.Context, source, mirror *forge.Repo) (*forge.Repo, Action, error) {
	head := source.Owner + ":" + source.DefaultBranch
	title := fmt.Sprintf("Sync from %s", source.FullName())
	body := fmt.Sprintf("Carries the current head of `%s` into this mirror.", head)

	created, err := m.service.CreateProposal(ctx, mirror.Owner, mirror.Name, title, head, mirror.DefaultBranch, body)
	if err != nil {
		if errors.Is(err, forge.ErrDuplicateProposal) {
			klog.V(1).InfoS("mirror already has an open sync proposal", "mirror", mirror.FullName())
			return mirror, ActionAlreadyProposed, nil
		}
		return nil, 0, fmt.Errorf("proposing sync into mirror %s: %w", mirror.FullName(), err)
	}

	// Best-effort auto-merge: the mirror is the service's own scratch
	// space, so a conflict here is left for the collaborator to resolve
	// rather than treated as a failure.
	if err := m.service.MergeProposal(ctx, mirror.Owner, mirror.Name, created.Number); err != nil {
		klog.InfoS("mirror sync proposal left open for manual resolution",
			"mirror", mirror.FullName(), "number", created.Number, "reason", err)
	}
	return mirror, ActionProposed, nil
}
