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

// Package forgetest provides an in-memory forge.Client for tests. It records
// every call so tests can assert not only on outcomes but on which remote
// operations were issued.
package forgetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/forksync/forksync/pkg/forge"
)

// Fake is an in-memory forge.Client. The zero value is usable. All methods
// are safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	repos     map[string]*forge.Repo   // key: owner/name
	branches  map[string]string        // key: owner/name@branch -> SHA
	forks     map[string][]*forge.Repo // key: owner/name of upstream
	proposals map[string][]*forge.Proposal
	merged    []string

	// Errs forces an error for the named repository key ("owner/name");
	// every call touching that key fails with the stored error.
	Errs map[string]error

	// CreateErrs forces only CreateProposal on the keyed repository to
	// fail, leaving reads and the rest of the surface intact.
	CreateErrs map[string]error

	nextNumber int
	forkOwner  string
	calls      []string

	// Collaborators records AddCollaborator grants as "owner/name user permission".
	Collaborators []string
}

var _ forge.Client = (*Fake)(nil)

func key(owner, name string) string { return owner + "/" + name }

// AddRepo registers a repository snapshot; its default branch head is seeded
// from headSHA when non-empty.
func (f *Fake) AddRepo(repo *forge.Repo, headSHA string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.repos == nil {
		f.repos = map[string]*forge.Repo{}
	}
	f.repos[key(repo.Owner, repo.Name)] = repo
	if headSHA != "" {
		f.setBranchLocked(repo.Owner, repo.Name, repo.DefaultBranch, headSHA)
	}
	if repo.Parent != nil {
		if _, ok := f.repos[key(repo.Parent.Owner, repo.Parent.Name)]; !ok {
			f.repos[key(repo.Parent.Owner, repo.Parent.Name)] = repo.Parent
		}
	}
}

// SetBranchHead sets the head SHA for a branch.
func (f *Fake) SetBranchHead(owner, name, branch, sha string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setBranchLocked(owner, name, branch, sha)
}

func (f *Fake) setBranchLocked(owner, name, branch, sha string) {
	if f.branches == nil {
		f.branches = map[string]string{}
	}
	f.branches[key(owner, name)+"@"+branch] = sha
}

// AddFork registers fork as a fork of owner/name for ListForks.
func (f *Fake) AddFork(owner, name string, fork *forge.Repo) {
	f.mu.Lock()
	if f.forks == nil {
		f.forks = map[string][]*forge.Repo{}
	}
	f.forks[key(owner, name)] = append(f.forks[key(owner, name)], fork)
	f.mu.Unlock()
	f.AddRepo(fork, "")
}

// AddProposal seeds an open proposal on owner/name.
func (f *Fake) AddProposal(owner, name string, p *forge.Proposal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.proposals == nil {
		f.proposals = map[string][]*forge.Proposal{}
	}
	f.proposals[key(owner, name)] = append(f.proposals[key(owner, name)], p)
}

// Calls returns the recorded call log, one "op owner/name" entry per call.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallsTo returns how many recorded calls start with prefix.
func (f *Fake) CallsTo(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Merged returns the proposals merged so far as "owner/name#number".
func (f *Fake) Merged() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.merged...)
}

func (f *Fake) record(op, owner, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+" "+key(owner, name))
	if err, ok := f.Errs[key(owner, name)]; ok {
		return err
	}
	return nil
}

func (f *Fake) GetRepo(ctx context.Context, owner, name string) (*forge.Repo, error) {
	if err := f.record("GetRepo", owner, name); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	repo, ok := f.repos[key(owner, name)]
	if !ok {
		return nil, fmt.Errorf("repo %s: %w", key(owner, name), forge.ErrNotFound)
	}
	return repo, nil
}

func (f *Fake) GetBranchHead(ctx context.Context, owner, name, branch string) (string, error) {
	if err := f.record("GetBranchHead", owner, name); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sha, ok := f.branches[key(owner, name)+"@"+branch]
	if !ok {
		return "", fmt.Errorf("branch %s@%s: %w", key(owner, name), branch, forge.ErrNotFound)
	}
	return sha, nil
}

func (f *Fake) ListForks(ctx context.Context, owner, name string) ([]*forge.Repo, error) {
	if err := f.record("ListForks", owner, name); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*forge.Repo(nil), f.forks[key(owner, name)]...), nil
}

func (f *Fake) ListOpenProposals(ctx context.Context, owner, name, headFilter string) ([]*forge.Proposal, error) {
	if err := f.record("ListOpenProposals", owner, name); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*forge.Proposal
	for _, p := range f.proposals[key(owner, name)] {
		if headFilter == "" || p.HeadRef == headFilter {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *Fake) CreateProposal(ctx context.Context, owner, name, title, head, base, body string) (*forge.Proposal, error) {
	if err := f.record("CreateProposal", owner, name); err != nil {
		return nil, err
	}
	f.mu.Lock()
	err, forced := f.CreateErrs[key(owner, name)]
	f.mu.Unlock()
	if forced {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextNumber++
	p := &forge.Proposal{
		Number:  f.nextNumber,
		Title:   title,
		HeadRef: head,
		BaseRef: base,
	}
	if sha, ok := f.branches[headSHAKey(head, name)]; ok {
		p.HeadSHA = sha
	}
	if f.proposals == nil {
		f.proposals = map[string][]*forge.Proposal{}
	}
	f.proposals[key(owner, name)] = append(f.proposals[key(owner, name)], p)
	return p, nil
}

// headSHAKey resolves an "owner:branch" head label against the fork
// network's shared repository name.
func headSHAKey(head, name string) string {
	i := strings.IndexByte(head, ':')
	if i < 0 {
		return ""
	}
	return head[:i] + "/" + name + "@" + head[i+1:]
}

func (f *Fake) MergeProposal(ctx context.Context, owner, name string, number int) error {
	if err := f.record("MergeProposal", owner, name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merged = append(f.merged, fmt.Sprintf("%s#%d", key(owner, name), number))
	return nil
}

func (f *Fake) ForkRepo(ctx context.Context, owner, name string) (*forge.Repo, error) {
	if err := f.record("ForkRepo", owner, name); err != nil {
		return nil, err
	}
	f.mu.Lock()
	src, ok := f.repos[key(owner, name)]
	forkOwner := f.forkOwner
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("repo %s: %w", key(owner, name), forge.ErrNotFound)
	}
	if forkOwner == "" {
		forkOwner = "service"
	}
	fork := &forge.Repo{
		Platform:      src.Platform,
		Owner:         forkOwner,
		Name:          src.Name,
		DefaultBranch: src.DefaultBranch,
		Fork:          true,
		Private:       src.Private,
		Parent:        src,
	}
	f.AddRepo(fork, "")
	f.mu.Lock()
	if sha, ok := f.branches[key(src.Owner, src.Name)+"@"+src.DefaultBranch]; ok {
		f.setBranchLocked(fork.Owner, fork.Name, fork.DefaultBranch, sha)
	}
	f.mu.Unlock()
	return fork, nil
}

// SetForkOwner changes the account new forks land in (default "service").
func (f *Fake) SetForkOwner(owner string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forkOwner = owner
}

func (f *Fake) EditRepo(ctx context.Context, owner, name string, edit forge.RepoEdit) (*forge.Repo, error) {
	if err := f.record("EditRepo", owner, name); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	repo, ok := f.repos[key(owner, name)]
	if !ok {
		return nil, fmt.Errorf("repo %s: %w", key(owner, name), forge.ErrNotFound)
	}
	if edit.Name != nil && *edit.Name != repo.Name {
		delete(f.repos, key(owner, name))
		repo.Name = *edit.Name
		f.repos[key(owner, repo.Name)] = repo
	}
	if edit.Description != nil {
		repo.Description = *edit.Description
	}
	if edit.Private != nil {
		repo.Private = *edit.Private
	}
	return repo, nil
}

func (f *Fake) AddCollaborator(ctx context.Context, owner, name, user, permission string) error {
	if err := f.record("AddCollaborator", owner, name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Collaborators = append(f.Collaborators, fmt.Sprintf("%s %s %s", key(owner, name), user, permission))
	return nil
}
