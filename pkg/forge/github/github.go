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

// Package github implements the forge capability over the GitHub REST API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/go-github/v48/github"
	"golang.org/x/oauth2"
	"k8s.io/klog/v2"

	"github.com/forksync/forksync/pkg/forge"
)

const listPageSize = 100

// maxRateLimitWait bounds how long a single call waits out a rate-limit
// reset before giving up and surfacing the error to the caller.
const maxRateLimitWait = 2 * time.Minute

// Client implements forge.Client for GitHub.
type Client struct {
	gh *github.Client
}

var _ forge.Client = (*Client)(nil)

// NewClient returns a GitHub-backed forge client. An empty token yields an
// unauthenticated client, useful only against test servers.
func NewClient(ctx context.Context, token string) *Client {
	httpClient := &http.Client{}
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		httpClient = oauth2.NewClient(ctx, ts)
	}
	return &Client{gh: github.NewClient(httpClient)}
}

// NewClientWithBaseURL points the client at a non-default API endpoint
// (GitHub Enterprise, or an httptest server in tests).
func NewClientWithBaseURL(ctx context.Context, token, baseURL string) (*Client, error) {
	c := NewClient(ctx, token)
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	c.gh.BaseURL = u
	return c, nil
}

func (c *Client) GetRepo(ctx context.Context, owner, name string) (*forge.Repo, error) {
	var repo *github.Repository
	err := c.call(ctx, fmt.Sprintf("get repo %s/%s", owner, name), func() (*github.Response, error) {
		var resp *github.Response
		var err error
		repo, resp, err = c.gh.Repositories.Get(ctx, owner, name)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return convertRepo(repo), nil
}

func (c *Client) GetBranchHead(ctx context.Context, owner, name, branch string) (string, error) {
	var b *github.Branch
	err := c.call(ctx, fmt.Sprintf("get branch %s/%s@%s", owner, name, branch), func() (*github.Response, error) {
		var resp *github.Response
		var err error
		b, resp, err = c.gh.Repositories.GetBranch(ctx, owner, name, branch, true)
		return resp, err
	})
	if err != nil {
		return "", err
	}
	return b.GetCommit().GetSHA(), nil
}

func (c *Client) ListForks(ctx context.Context, owner, name string) ([]*forge.Repo, error) {
	op := fmt.Sprintf("list forks of %s/%s", owner, name)
	opts := &github.RepositoryListForksOptions{
		ListOptions: github.ListOptions{PerPage: listPageSize},
	}
	var forks []*forge.Repo
	for {
		var page []*github.Repository
		var resp *github.Response
		err := c.call(ctx, op, func() (*github.Response, error) {
			var err error
			page, resp, err = c.gh.Repositories.ListForks(ctx, owner, name, opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, r := range page {
			forks = append(forks, convertRepo(r))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return forks, nil
}

func (c *Client) ListOpenProposals(ctx context.Context, owner, name, headFilter string) ([]*forge.Proposal, error) {
	op := fmt.Sprintf("list proposals on %s/%s", owner, name)
	opts := &github.PullRequestListOptions{
		State:       "open",
		Head:        headFilter,
		ListOptions: github.ListOptions{PerPage: listPageSize},
	}
	var proposals []*forge.Proposal
	for {
		var page []*github.PullRequest
		var resp *github.Response
		err := c.call(ctx, op, func() (*github.Response, error) {
			var err error
			page, resp, err = c.gh.PullRequests.List(ctx, owner, name, opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, pr := range page {
			proposals = append(proposals, convertProposal(pr))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return proposals, nil
}

func (c *Client) CreateProposal(ctx context.Context, owner, name, title, head, base, body string) (*forge.Proposal, error) {
	var pr *github.PullRequest
	err := c.call(ctx, fmt.Sprintf("create proposal on %s/%s", owner, name), func() (*github.Response, error) {
		var resp *github.Response
		var err error
		pr, resp, err = c.gh.PullRequests.Create(ctx, owner, name, &github.NewPullRequest{
			Title:               github.String(title),
			Head:                github.String(head),
			Base:                github.String(base),
			Body:                github.String(body),
			MaintainerCanModify: github.Bool(true),
		})
		return resp, err
	})
	if err != nil {
		// GitHub rejects a second open pull request for an identical
		// head/base pair with 422. That rejection is the second guard
		// behind the publisher's own duplicate check.
		var re *forge.RemoteError
		if errors.As(err, &re) && re.StatusCode == http.StatusUnprocessableEntity {
			return nil, fmt.Errorf("proposal %s -> %s/%s: %w", head, owner, name, forge.ErrDuplicateProposal)
		}
		return nil, err
	}
	return convertProposal(pr), nil
}

func (c *Client) MergeProposal(ctx context.Context, owner, name string, number int) error {
	return c.call(ctx, fmt.Sprintf("merge proposal %s/%s#%d", owner, name, number), func() (*github.Response, error) {
		_, resp, err := c.gh.PullRequests.Merge(ctx, owner, name, number, "", nil)
		return resp, err
	})
}

func (c *Client) ForkRepo(ctx context.Context, owner, name string) (*forge.Repo, error) {
	repo, _, err := c.gh.Repositories.CreateFork(ctx, owner, name, nil)
	// Forking is asynchronous; GitHub answers 202 and go-github surfaces
	// that as AcceptedError with the repository payload already populated.
	if _, accepted := err.(*github.AcceptedError); err != nil && !accepted {
		return nil, mapError(fmt.Sprintf("fork %s/%s", owner, name), nil, err)
	}
	if repo == nil {
		return nil, &forge.RemoteError{
			Op:  fmt.Sprintf("fork %s/%s", owner, name),
			Err: fmt.Errorf("fork accepted but no repository returned"),
		}
	}
	return convertRepo(repo), nil
}

func (c *Client) EditRepo(ctx context.Context, owner, name string, edit forge.RepoEdit) (*forge.Repo, error) {
	var repo *github.Repository
	err := c.call(ctx, fmt.Sprintf("edit repo %s/%s", owner, name), func() (*github.Response, error) {
		var resp *github.Response
		var err error
		repo, resp, err = c.gh.Repositories.Edit(ctx, owner, name, &github.Repository{
			Name:        edit.Name,
			Description: edit.Description,
			Homepage:    edit.Homepage,
			Private:     edit.Private,
		})
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return convertRepo(repo), nil
}

func (c *Client) AddCollaborator(ctx context.Context, owner, name, user, permission string) error {
	return c.call(ctx, fmt.Sprintf("add collaborator %s to %s/%s", user, owner, name), func() (*github.Response, error) {
		_, resp, err := c.gh.Repositories.AddCollaborator(ctx, owner, name, user, &github.RepositoryAddCollaboratorOptions{
			Permission: permission,
		})
		return resp, err
	})
}

// call invokes fn, waiting out one rate-limit reset when the API asks for
// it, and maps the final error into the forge taxonomy.
func (c *Client) call(ctx context.Context, op string, fn func() (*github.Response, error)) error {
	resp, err := fn()
	if wait, limited := rateLimitWait(err); limited && wait <= maxRateLimitWait {
		klog.V(1).InfoS("rate limited, waiting for reset", "op", op, "wait", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &forge.RemoteError{Op: op, Err: ctx.Err()}
		case <-timer.C:
		}
		resp, err = fn()
	}
	return mapError(op, resp, err)
}

func rateLimitWait(err error) (time.Duration, bool) {
	switch e := err.(type) {
	case *github.RateLimitError:
		return time.Until(e.Rate.Reset.Time), true
	case *github.AbuseRateLimitError:
		return e.GetRetryAfter(), true
	}
	return 0, false
}

func mapError(op string, resp *github.Response, err error) error {
	if err == nil {
		return nil
	}
	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, forge.ErrNotFound)
	}
	return &forge.RemoteError{Op: op, StatusCode: status, Err: err}
}

func convertRepo(r *github.Repository) *forge.Repo {
	if r == nil {
		return nil
	}
	repo := &forge.Repo{
		Platform:      forge.GitHub,
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		DefaultBranch: r.GetDefaultBranch(),
		Fork:          r.GetFork(),
		Private:       r.GetPrivate(),
		Description:   r.GetDescription(),
		HTMLURL:       r.GetHTMLURL(),
	}
	if r.Parent != nil {
		repo.Parent = convertRepo(r.Parent)
	}
	return repo
}

func convertProposal(pr *github.PullRequest) *forge.Proposal {
	return &forge.Proposal{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		HeadRef: pr.GetHead().GetLabel(),
		HeadSHA: pr.GetHead().GetSHA(),
		BaseRef: pr.GetBase().GetRef(),
		URL:     pr.GetHTMLURL(),
	}
}
