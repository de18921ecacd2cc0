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

package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forksync/forksync/pkg/forge"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := NewClientWithBaseURL(context.Background(), "", server.URL+"/")
	require.NoError(t, err)
	return c
}

func TestGetRepo_ConvertsForkWithParent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/app", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"name": "app",
			"owner": {"login": "octo"},
			"default_branch": "main",
			"fork": true,
			"private": true,
			"html_url": "https://github.example/octo/app",
			"parent": {
				"name": "app",
				"owner": {"login": "upstream"},
				"default_branch": "main"
			}
		}`)
	})
	c := newTestClient(t, mux)

	repo, err := c.GetRepo(context.Background(), "octo", "app")
	require.NoError(t, err)

	assert.Equal(t, forge.GitHub, repo.Platform)
	assert.Equal(t, "octo/app", repo.FullName())
	assert.Equal(t, "main", repo.DefaultBranch)
	assert.True(t, repo.Fork)
	assert.True(t, repo.Private)
	require.NotNil(t, repo.Parent)
	assert.Equal(t, "upstream/app", repo.Parent.FullName())
}

func TestGetRepo_MissingMapsToNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Not Found"}`, http.StatusNotFound)
	}))

	_, err := c.GetRepo(context.Background(), "ghost", "app")
	require.ErrorIs(t, err, forge.ErrNotFound)
}

func TestGetRepo_ServerErrorIsRemoteError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "boom"}`, http.StatusInternalServerError)
	}))

	_, err := c.GetRepo(context.Background(), "octo", "app")
	require.Error(t, err)
	assert.NotErrorIs(t, err, forge.ErrNotFound)

	var re *forge.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusInternalServerError, re.StatusCode)
}

func TestGetBranchHead(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/app/branches/main", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name": "main", "commit": {"sha": "sha1"}}`)
	})
	c := newTestClient(t, mux)

	sha, err := c.GetBranchHead(context.Background(), "octo", "app", "main")
	require.NoError(t, err)
	assert.Equal(t, "sha1", sha)
}

func TestListForks_Paginates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/upstream/app/forks", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"name": "app", "owner": {"login": "bob"}, "fork": true}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<http://%s/repos/upstream/app/forks?page=2>; rel="next"`, r.Host))
		fmt.Fprint(w, `[{"name": "app", "owner": {"login": "alice"}, "fork": true}]`)
	})
	c := newTestClient(t, mux)

	forks, err := c.ListForks(context.Background(), "upstream", "app")
	require.NoError(t, err)
	require.Len(t, forks, 2)
	assert.Equal(t, "alice", forks[0].Owner)
	assert.Equal(t, "bob", forks[1].Owner)
}

func TestCreateProposal_UnprocessableMapsToDuplicate(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Validation Failed", "errors": [{"message": "A pull request already exists"}]}`, http.StatusUnprocessableEntity)
	}))

	_, err := c.CreateProposal(context.Background(), "octo", "app", "t", "upstream:main", "main", "b")
	require.ErrorIs(t, err, forge.ErrDuplicateProposal)
}

func TestListOpenProposals_AppliesHeadFilter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/app/pulls", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		assert.Equal(t, "upstream:main", r.URL.Query().Get("head"))
		fmt.Fprint(w, `[{
			"number": 4,
			"title": "Update from upstream",
			"head": {"label": "upstream:main", "sha": "sha2", "ref": "main"},
			"base": {"ref": "main"}
		}]`)
	})
	c := newTestClient(t, mux)

	props, err := c.ListOpenProposals(context.Background(), "octo", "app", "upstream:main")
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, 4, props[0].Number)
	assert.Equal(t, "sha2", props[0].HeadSHA)
	assert.Equal(t, "upstream:main", props[0].HeadRef)
}
