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

// Package gitlab implements the forge capability over the GitLab API.
package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/xanzy/go-gitlab"

	"github.com/forksync/forksync/pkg/forge"
)

const listPageSize = 100

// Client implements forge.Client for GitLab. The go-gitlab client applies
// its own client-side rate limiting, so no extra backoff is layered here.
type Client struct {
	gl *gitlab.Client
}

var _ forge.Client = (*Client)(nil)

// NewClient returns a GitLab-backed forge client against gitlab.com.
func NewClient(token string) (*Client, error) {
	return NewClientWithBaseURL(token, "https://gitlab.com/")
}

// NewClientWithBaseURL targets a self-hosted GitLab instance or a test
// server.
func NewClientWithBaseURL(token, baseURL string) (*Client, error) {
	glc, err := gitlab.NewClient(token, gitlab.WithBaseURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create gitlab client: %w", err)
	}
	return &Client{gl: glc}, nil
}

func pid(owner, name string) string {
	return owner + "/" + name
}

func (c *Client) GetRepo(ctx context.Context, owner, name string) (*forge.Repo, error) {
	project, resp, err := c.gl.Projects.GetProject(pid(owner, name), &gitlab.GetProjectOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, mapError(fmt.Sprintf("get project %s/%s", owner, name), resp, err)
	}
	repo := convertProject(project)
	if project.ForkedFromProject != nil {
		parent, resp, err := c.gl.Projects.GetProject(project.ForkedFromProject.PathWithNamespace, &gitlab.GetProjectOptions{}, gitlab.WithContext(ctx))
		if err != nil {
			return nil, mapError(fmt.Sprintf("get parent project %s", project.ForkedFromProject.PathWithNamespace), resp, err)
		}
		repo.Fork = true
		repo.Parent = convertProject(parent)
	}
	return repo, nil
}

func (c *Client) GetBranchHead(ctx context.Context, owner, name, branch string) (string, error) {
	b, resp, err := c.gl.Branches.GetBranch(pid(owner, name), branch, gitlab.WithContext(ctx))
	if err != nil {
		return "", mapError(fmt.Sprintf("get branch %s/%s@%s", owner, name, branch), resp, err)
	}
	if b.Commit == nil {
		// An unborn branch has no head to compare against.
		return "", fmt.Errorf("branch %s/%s@%s has no commits: %w", owner, name, branch, forge.ErrNotFound)
	}
	return b.Commit.ID, nil
}

func (c *Client) ListForks(ctx context.Context, owner, name string) ([]*forge.Repo, error) {
	op := fmt.Sprintf("list forks of %s/%s", owner, name)
	opts := &gitlab.ListProjectsOptions{
		ListOptions: gitlab.ListOptions{Page: 1, PerPage: listPageSize},
	}
	var forks []*forge.Repo
	for {
		page, resp, err := c.gl.Projects.ListProjectForks(pid(owner, name), opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, mapError(op, resp, err)
		}
		for _, p := range page {
			fork := convertProject(p)
			fork.Fork = true
			forks = append(forks, fork)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return forks, nil
}

func (c *Client) ListOpenProposals(ctx context.Context, owner, name, headFilter string) ([]*forge.Proposal, error) {
	op := fmt.Sprintf("list merge requests on %s/%s", owner, name)
	opts := &gitlab.ListProjectMergeRequestsOptions{
		State:       gitlab.String("opened"),
		ListOptions: gitlab.ListOptions{Page: 1, PerPage: listPageSize},
	}
	if _, branch, ok := splitHead(headFilter); ok {
		opts.SourceBranch = gitlab.String(branch)
	}
	var proposals []*forge.Proposal
	for {
		page, resp, err := c.gl.MergeRequests.ListProjectMergeRequests(pid(owner, name), opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, mapError(op, resp, err)
		}
		for _, mr := range page {
			proposals = append(proposals, convertMergeRequest(mr))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return proposals, nil
}

// CreateProposal opens a merge request. A cross-namespace head ("owner:branch"
// with a different owner) is created on the source project targeting this
// project, the GitLab equivalent of GitHub's cross-fork head; fork networks
// share the repository name, which is what makes the source project
// addressable.
func (c *Client) CreateProposal(ctx context.Context, owner, name, title, head, base, body string) (*forge.Proposal, error) {
	op := fmt.Sprintf("create merge request on %s/%s", owner, name)
	headOwner, headBranch, ok := splitHead(head)
	if !ok {
		headOwner, headBranch = owner, head
	}
	createOpts := &gitlab.CreateMergeRequestOptions{
		Title:        gitlab.String(title),
		Description:  gitlab.String(body),
		SourceBranch: gitlab.String(headBranch),
		TargetBranch: gitlab.String(base),
	}
	sourcePID := pid(headOwner, name)
	if headOwner != owner {
		target, resp, err := c.gl.Projects.GetProject(pid(owner, name), &gitlab.GetProjectOptions{}, gitlab.WithContext(ctx))
		if err != nil {
			return nil, mapError(op, resp, err)
		}
		createOpts.TargetProjectID = gitlab.Int(target.ID)
	}
	mr, resp, err := c.gl.MergeRequests.CreateMergeRequest(sourcePID, createOpts, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("merge request %s -> %s/%s: %w", head, owner, name, forge.ErrDuplicateProposal)
		}
		return nil, mapError(op, resp, err)
	}
	return convertMergeRequest(mr), nil
}

func (c *Client) MergeProposal(ctx context.Context, owner, name string, number int) error {
	_, resp, err := c.gl.MergeRequests.AcceptMergeRequest(pid(owner, name), number, &gitlab.AcceptMergeRequestOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		return mapError(fmt.Sprintf("accept merge request %s/%s!%d", owner, name, number), resp, err)
	}
	return nil
}

func (c *Client) ForkRepo(ctx context.Context, owner, name string) (*forge.Repo, error) {
	project, resp, err := c.gl.Projects.ForkProject(pid(owner, name), &gitlab.ForkProjectOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, mapError(fmt.Sprintf("fork project %s/%s", owner, name), resp, err)
	}
	fork := convertProject(project)
	fork.Fork = true
	return fork, nil
}

func (c *Client) EditRepo(ctx context.Context, owner, name string, edit forge.RepoEdit) (*forge.Repo, error) {
	opts := &gitlab.EditProjectOptions{
		Name:        edit.Name,
		Path:        edit.Name,
		Description: edit.Description,
	}
	if edit.Private != nil {
		if *edit.Private {
			opts.Visibility = gitlab.Visibility(gitlab.PrivateVisibility)
		} else {
			opts.Visibility = gitlab.Visibility(gitlab.PublicVisibility)
		}
	}
	project, resp, err := c.gl.Projects.EditProject(pid(owner, name), opts, gitlab.WithContext(ctx))
	if err != nil {
		return nil, mapError(fmt.Sprintf("edit project %s/%s", owner, name), resp, err)
	}
	return convertProject(project), nil
}

func (c *Client) AddCollaborator(ctx context.Context, owner, name, user, permission string) error {
	op := fmt.Sprintf("add member %s to %s/%s", user, owner, name)
	users, resp, err := c.gl.Users.ListUsers(&gitlab.ListUsersOptions{Username: gitlab.String(user)}, gitlab.WithContext(ctx))
	if err != nil {
		return mapError(op, resp, err)
	}
	if len(users) == 0 {
		return fmt.Errorf("user %q: %w", user, forge.ErrNotFound)
	}
	level := gitlab.DeveloperPermissions
	if permission == "admin" || permission == "maintain" {
		level = gitlab.MaintainerPermissions
	}
	_, resp, err = c.gl.ProjectMembers.AddProjectMember(pid(owner, name), &gitlab.AddProjectMemberOptions{
		UserID:      users[0].ID,
		AccessLevel: gitlab.AccessLevel(level),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return mapError(op, resp, err)
	}
	return nil
}

func splitHead(head string) (owner, branch string, ok bool) {
	i := strings.IndexByte(head, ':')
	if i < 0 {
		return "", "", false
	}
	return head[:i], head[i+1:], true
}

func mapError(op string, resp *gitlab.Response, err error) error {
	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, forge.ErrNotFound)
	}
	return &forge.RemoteError{Op: op, StatusCode: status, Err: err}
}

func convertProject(p *gitlab.Project) *forge.Repo {
	if p == nil {
		return nil
	}
	owner := ""
	if p.Namespace != nil {
		owner = p.Namespace.Path
	} else if i := strings.LastIndexByte(p.PathWithNamespace, '/'); i >= 0 {
		owner = p.PathWithNamespace[:i]
	}
	return &forge.Repo{
		Platform:      forge.GitLab,
		Owner:         owner,
		Name:          p.Path,
		DefaultBranch: p.DefaultBranch,
		Fork:          p.ForkedFromProject != nil,
		Private:       p.Visibility == gitlab.PrivateVisibility,
		Description:   p.Description,
		HTMLURL:       p.WebURL,
	}
}

func convertMergeRequest(mr *gitlab.MergeRequest) *forge.Proposal {
	return &forge.Proposal{
		Number:  mr.IID,
		Title:   mr.Title,
		HeadRef: mr.SourceBranch,
		HeadSHA: mr.SHA,
		BaseRef: mr.TargetBranch,
		URL:     mr.WebURL,
	}
}
