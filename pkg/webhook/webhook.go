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

// Package webhook turns hosting-platform push deliveries into dispatch
// events and answers each one with a JSON acknowledgment. GitHub deliveries
// are recognized by their X-GitHub-Event header, GitLab deliveries by
// X-Gitlab-Event; each platform's payload is parsed with that platform's
// client library.
package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/go-github/v48/github"
	"github.com/xanzy/go-gitlab"
	"k8s.io/klog/v2"

	"github.com/forksync/forksync/pkg/dispatch"
	"github.com/forksync/forksync/pkg/forge"
)

// Handler serves the webhook ingress endpoint.
type Handler struct {
	dispatcher *dispatch.Dispatcher
	forges     forge.ClientSet

	// secret enables delivery authentication when non-empty: an HMAC
	// signature check for GitHub, a token comparison for GitLab.
	secret []byte
}

func NewHandler(dispatcher *dispatch.Dispatcher, forges forge.ClientSet, secret string) *Handler {
	h := &Handler{dispatcher: dispatcher, forges: forges}
	if secret != "" {
		h.secret = []byte(secret)
	}
	return h
}

type ack struct {
	Status  string            `json:"status"`
	Outcome *dispatch.Outcome `json:"outcome,omitempty"`
}

// ServeHTTP accepts a push-event delivery, dispatches it, and acknowledges
// with the sync outcome. Non-push events are acknowledged and ignored. The
// response never carries raw remote-API error text beyond the per-fork
// reasons already summarized in the outcome.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get("X-Gitlab-Event") != "" {
		h.serveGitLab(w, r)
		return
	}
	h.serveGitHub(w, r)
}

func (h *Handler) serveGitHub(w http.ResponseWriter, r *http.Request) {
	payload, err := github.ValidatePayload(r, h.secret)
	if err != nil {
		klog.ErrorS(err, "rejecting webhook delivery")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		http.Error(w, "unparseable event", http.StatusBadRequest)
		return
	}

	push, ok := event.(*github.PushEvent)
	if !ok {
		writeJSON(w, http.StatusOK, ack{Status: "ignored"})
		return
	}

	repo := push.GetRepo()
	ev := dispatch.Event{
		Platform: forge.GitHub,
		Owner:    repo.GetOwner().GetLogin(),
		Name:     repo.GetName(),
		Fork:     repo.GetFork(),
	}
	if ev.Owner == "" {
		// Push payloads carry the owner under "name" for user-owned
		// repositories on some delivery versions.
		ev.Owner = repo.GetOwner().GetName()
	}
	h.dispatch(w, r, ev)
}

func (h *Handler) serveGitLab(w http.ResponseWriter, r *http.Request) {
	if h.secret != nil && r.Header.Get("X-Gitlab-Token") != string(h.secret) {
		klog.ErrorS(nil, "rejecting webhook delivery", "reason", "token mismatch")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	event, err := gitlab.ParseWebhook(gitlab.HookEventType(r), payload)
	if err != nil {
		http.Error(w, "unparseable event", http.StatusBadRequest)
		return
	}

	push, ok := event.(*gitlab.PushEvent)
	if !ok {
		writeJSON(w, http.StatusOK, ack{Status: "ignored"})
		return
	}

	owner, name, ok := strings.Cut(push.Project.PathWithNamespace, "/")
	if !ok || owner == "" || name == "" {
		http.Error(w, "event missing repository coordinates", http.StatusBadRequest)
		return
	}

	// GitLab push payloads do not say whether the project is a fork, so
	// fork status is re-fetched like every other remote truth.
	client, err := h.forges.ClientFor(forge.GitLab)
	if err != nil {
		klog.ErrorS(err, "webhook dispatch failed", "repo", owner+"/"+name)
		http.Error(w, "platform not configured", http.StatusInternalServerError)
		return
	}
	repo, err := client.GetRepo(r.Context(), owner, name)
	if err != nil {
		klog.ErrorS(err, "webhook dispatch failed", "repo", owner+"/"+name)
		http.Error(w, "dispatch failed", http.StatusInternalServerError)
		return
	}

	h.dispatch(w, r, dispatch.Event{
		Platform: forge.GitLab,
		Owner:    owner,
		Name:     name,
		Fork:     repo.Fork,
	})
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, ev dispatch.Event) {
	outcome, err := h.dispatcher.HandleWebhook(r.Context(), ev)
	if err != nil {
		klog.ErrorS(err, "webhook dispatch failed", "repo", ev.Owner+"/"+ev.Name)
		http.Error(w, "dispatch failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ack{Status: "ok", Outcome: outcome})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		klog.ErrorS(err, "writing webhook acknowledgment")
	}
}
