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

// Package forge defines the capability interface over a repository hosting
// platform (GitHub, GitLab, ...). Components never talk to a hosting API
// directly; they hold a Client and re-fetch remote truth on every operation.
package forge

import (
	"context"
	"fmt"
)

// Platform identifies a repository hosting platform.
type Platform string

const (
	GitHub Platform = "github"
	GitLab Platform = "gitlab"
)

// Repo is an immutable snapshot of a repository's metadata. It is fetched
// fresh per operation and never cached across invocations: divergence state
// changes externally at any time.
type Repo struct {
	Platform      Platform
	Owner         string
	Name          string
	DefaultBranch string
	Fork          bool
	Private       bool
	Description   string
	HTMLURL       string

	// Parent is set for forks and carries the upstream's snapshot.
	Parent *Repo
}

// FullName returns the owner-qualified repository name.
func (r *Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

// Proposal identifies an open merge proposal on the hosting platform.
type Proposal struct {
	Number  int
	Title   string
	HeadRef string
	HeadSHA string
	BaseRef string
	URL     string
}

// RepoEdit carries the mutable repository metadata fields accepted by
// EditRepo. Nil fields are left unchanged.
type RepoEdit struct {
	Name        *string
	Description *string
	Homepage    *string
	Private     *bool
}

// Client is the capability interface over one hosting platform account.
// Every call re-derives current remote state; implementations must map a
// missing target to ErrNotFound so callers can distinguish absence from
// transport failure.
type Client interface {
	GetRepo(ctx context.Context, owner, name string) (*Repo, error)
	GetBranchHead(ctx context.Context, owner, name, branch string) (string, error)
	ListForks(ctx context.Context, owner, name string) ([]*Repo, error)

	// ListOpenProposals returns open proposals whose head matches
	// headFilter ("owner:branch"). An empty filter returns all open
	// proposals.
	ListOpenProposals(ctx context.Context, owner, name, headFilter string) ([]*Proposal, error)
	CreateProposal(ctx context.Context, owner, name, title, head, base, body string) (*Proposal, error)
	MergeProposal(ctx context.Context, owner, name string, number int) error

	ForkRepo(ctx context.Context, owner, name string) (*Repo, error)
	EditRepo(ctx context.Context, owner, name string, edit RepoEdit) (*Repo, error)
	AddCollaborator(ctx context.Context, owner, name, user, permission string) error
}

// ClientSet resolves the Client for a platform. Dispatch components receive
// a ClientSet at construction time; nothing reads ambient global clients.
type ClientSet interface {
	ClientFor(platform Platform) (Client, error)
}

// Set is a fixed platform-to-client mapping.
type Set map[Platform]Client

func (s Set) ClientFor(platform Platform) (Client, error) {
	c, ok := s[platform]
	if !ok {
		return nil, fmt.Errorf("platform %q: %w", platform, ErrUnsupportedPlatform)
	}
	return c, nil
}
