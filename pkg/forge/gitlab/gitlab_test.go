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

package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forksync/forksync/pkg/forge"
)

// The project path segment arrives URL-encoded ("octo%2Fapp"), so handlers
// route on the escaped path instead of a ServeMux pattern.
func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(server.Close)
	c, err := NewClientWithBaseURL("", server.URL)
	require.NoError(t, err)
	return c
}

const forkProjectJSON = `{
	"id": 1,
	"path": "app",
	"name": "app",
	"path_with_namespace": "octo/app",
	"default_branch": "main",
	"visibility": "private",
	"web_url": "https://gitlab.example/octo/app",
	"namespace": {"path": "octo"},
	"forked_from_project": {"id": 2, "path_with_namespace": "upstream/app"}
}`

const upstreamProjectJSON = `{
	"id": 2,
	"path": "app",
	"name": "app",
	"path_with_namespace": "upstream/app",
	"default_branch": "main",
	"visibility": "public",
	"web_url": "https://gitlab.example/upstream/app",
	"namespace": {"path": "upstream"}
}`

func TestGetRepo_ConvertsForkWithParent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.EscapedPath() {
		case "/api/v4/projects/octo%2Fapp":
			fmt.Fprint(w, forkProjectJSON)
		case "/api/v4/projects/upstream%2Fapp":
			fmt.Fprint(w, upstreamProjectJSON)
		default:
			http.NotFound(w, r)
		}
	})

	repo, err := c.GetRepo(context.Background(), "octo", "app")
	require.NoError(t, err)
	assert.Equal(t, forge.GitLab, repo.Platform)
	assert.Equal(t, "octo", repo.Owner)
	assert.Equal(t, "app", repo.Name)
	assert.Equal(t, "main", repo.DefaultBranch)
	assert.True(t, repo.Fork)
	assert.True(t, repo.Private)
	require.NotNil(t, repo.Parent)
	assert.Equal(t, "upstream", repo.Parent.Owner)
	assert.Equal(t, "app", repo.Parent.Name)
	assert.False(t, repo.Parent.Private)
}

func TestGetRepo_MissingMapsToNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := c.GetRepo(context.Background(), "ghost", "app")
	require.Error(t, err)
	assert.ErrorIs(t, err, forge.ErrNotFound)
}

func TestGetBranchHead(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/api/v4/projects/octo%2Fapp/repository/branches/main" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"name": "main", "commit": {"id": "sha1"}}`)
	})

	sha, err := c.GetBranchHead(context.Background(), "octo", "app", "main")
	require.NoError(t, err)
	assert.Equal(t, "sha1", sha)
}

func TestGetBranchHead_UnbornBranchIsNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// A branch record without a commit, as on an empty repository.
		fmt.Fprint(w, `{"name": "main"}`)
	})

	sha, err := c.GetBranchHead(context.Background(), "octo", "app", "main")
	require.Error(t, err)
	assert.ErrorIs(t, err, forge.ErrNotFound)
	assert.Empty(t, sha)
}

func TestListForks_Paginates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/api/v4/projects/upstream%2Fapp/forks" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"id": 4, "path": "app", "path_with_namespace": "bob/app", "default_branch": "main", "namespace": {"path": "bob"}}]`)
			return
		}
		w.Header().Set("X-Next-Page", "2")
		fmt.Fprint(w, `[{"id": 3, "path": "app", "path_with_namespace": "alice/app", "default_branch": "main", "namespace": {"path": "alice"}}]`)
	})

	forks, err := c.ListForks(context.Background(), "upstream", "app")
	require.NoError(t, err)
	require.Len(t, forks, 2)
	assert.Equal(t, "alice", forks[0].Owner)
	assert.Equal(t, "bob", forks[1].Owner)
	assert.True(t, forks[0].Fork)
}

func TestCreateProposal_CrossNamespaceTargetsSourceProject(t *testing.T) {
	var created struct {
		SourceBranch    string `json:"source_branch"`
		TargetBranch    string `json:"target_branch"`
		TargetProjectID int    `json:"target_project_id"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.EscapedPath() == "/api/v4/projects/octo%2Fapp" && r.Method == http.MethodGet:
			fmt.Fprint(w, forkProjectJSON)
		case r.URL.EscapedPath() == "/api/v4/projects/upstream%2Fapp/merge_requests" && r.Method == http.MethodPost:
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			fmt.Fprint(w, `{"iid": 7, "title": "t", "sha": "sha2", "source_branch": "main", "target_branch": "main", "web_url": "https://gitlab.example/mr/7"}`)
		default:
			http.NotFound(w, r)
		}
	})

	// The head lives in the upstream namespace, so the merge request is
	// created on the upstream project targeting the fork.
	p, err := c.CreateProposal(context.Background(), "octo", "app", "t", "upstream:main", "main", "b")
	require.NoError(t, err)
	assert.Equal(t, 7, p.Number)
	assert.Equal(t, "sha2", p.HeadSHA)
	assert.Equal(t, 1, created.TargetProjectID)
	assert.Equal(t, "main", created.SourceBranch)
	assert.Equal(t, "main", created.TargetBranch)
}

func TestCreateProposal_ConflictMapsToDuplicate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"message": "Another open merge request already exists for this source branch"}`)
	})

	_, err := c.CreateProposal(context.Background(), "octo", "app", "t", "octo:main", "main", "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, forge.ErrDuplicateProposal)
}

func TestMergeProposal(t *testing.T) {
	var accepted bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() == "/api/v4/projects/octo%2Fapp/merge_requests/7/merge" && r.Method == http.MethodPut {
			accepted = true
			fmt.Fprint(w, `{"iid": 7, "state": "merged"}`)
			return
		}
		http.NotFound(w, r)
	})

	require.NoError(t, c.MergeProposal(context.Background(), "octo", "app", 7))
	assert.True(t, accepted)
}
