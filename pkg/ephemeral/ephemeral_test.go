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

package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forksync/forksync/pkg/forge"
	"github.com/forksync/forksync/pkg/forge/forgetest"
)

func sourceRepo() *forge.Repo {
	return &forge.Repo{
		Platform:      forge.GitHub,
		Owner:         "octo",
		Name:          "app",
		DefaultBranch: "main",
		HTMLURL:       "https://github.example/octo/app",
	}
}

func newTestManager() (*Manager, *forgetest.Fake) {
	fake := &forgetest.Fake{}
	fake.SetForkOwner("forksync-bot")
	fake.AddRepo(sourceRepo(), "sha1")
	return NewManager(fake, fake, "forksync-bot"), fake
}

func TestMirrorName_Deterministic(t *testing.T) {
	assert.Equal(t, "sync-octo-app", MirrorName("octo", "app"))
	assert.Equal(t, MirrorName("Octo", "App"), MirrorName("octo", "app"))
}

func TestEnsureAndSync_FirstCallCreatesMirror(t *testing.T) {
	m, fake := newTestManager()

	mirror, action, err := m.EnsureAndSync(context.Background(), sourceRepo())
	require.NoError(t, err)

	assert.Equal(t, ActionCreated, action)
	assert.Equal(t, "forksync-bot", mirror.Owner)
	assert.Equal(t, "sync-octo-app", mirror.Name)
	assert.True(t, mirror.Fork)
	assert.Equal(t, 1, fake.CallsTo("ForkRepo"))
	assert.Equal(t, 1, fake.CallsTo("EditRepo"))
	require.Len(t, fake.Collaborators, 1)
	assert.Equal(t, "forksync-bot/sync-octo-app octo push", fake.Collaborators[0])
	assert.Contains(t, mirror.Description, "octo/app")
}

func TestEnsureAndSync_SecondCallReusesMirror(t *testing.T) {
	m, fake := newTestManager()

	first, _, err := m.EnsureAndSync(context.Background(), sourceRepo())
	require.NoError(t, err)
	second, action, err := m.EnsureAndSync(context.Background(), sourceRepo())
	require.NoError(t, err)

	// Exactly one mirror is ever created; the repeat invocation syncs it.
	assert.Equal(t, ActionProposed, action)
	assert.Equal(t, first.Name, second.Name)
	assert.Equal(t, 1, fake.CallsTo("ForkRepo"))
	assert.Equal(t, 1, fake.CallsTo("CreateProposal"))
	assert.Len(t, fake.Merged(), 1)
}

func TestEnsureAndSync_SecondCallOpensSyncProposal(t *testing.T) {
	m, fake := newTestManager()

	_, _, err := m.EnsureAndSync(context.Background(), sourceRepo())
	require.NoError(t, err)
	_, _, err = m.EnsureAndSync(context.Background(), sourceRepo())
	require.NoError(t, err)

	props, err := fake.ListOpenProposals(context.Background(), "forksync-bot", "sync-octo-app", "")
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, "octo:main", props[0].HeadRef)
	assert.Equal(t, "main", props[0].BaseRef)
}

func TestEnsureAndSync_OpenSyncProposalReportsAlreadyProposed(t *testing.T) {
	m, fake := newTestManager()

	_, _, err := m.EnsureAndSync(context.Background(), sourceRepo())
	require.NoError(t, err)

	// The host rejects the repeat proposal as a duplicate of the one
	// still open; that is reported distinctly, not as a fresh proposal.
	fake.CreateErrs = map[string]error{
		"forksync-bot/sync-octo-app": fmt.Errorf("merge request exists: %w", forge.ErrDuplicateProposal),
	}
	mirror, action, err := m.EnsureAndSync(context.Background(), sourceRepo())
	require.NoError(t, err)
	assert.Equal(t, ActionAlreadyProposed, action)
	assert.Equal(t, "sync-octo-app", mirror.Name)
	assert.Empty(t, fake.Merged())
}

func TestEnsureAndSync_ProbeFailurePropagates(t *testing.T) {
	fake := &forgetest.Fake{}
	fake.AddRepo(sourceRepo(), "sha1")
	// A transport failure on the probe is not absence; creation must not run.
	fake.Errs = map[string]error{
		"forksync-bot/sync-octo-app": &forge.RemoteError{Op: "get repo", StatusCode: 500, Err: errors.New("boom")},
	}
	m := NewManager(fake, fake, "forksync-bot")

	_, _, err := m.EnsureAndSync(context.Background(), sourceRepo())
	require.Error(t, err)
	var re *forge.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Zero(t, fake.CallsTo("ForkRepo"))
}
