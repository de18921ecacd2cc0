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

// Package linkstore gives the dispatcher read-only access to sync link
// configuration. Links are owned and written elsewhere; this package only
// ever loads them.
package linkstore

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/forksync/forksync/pkg/forge"
)

// RepoDescriptor names one side of a sync link.
type RepoDescriptor struct {
	Platform forge.Platform `yaml:"platform"`
	Owner    string         `yaml:"owner"`
	Name     string         `yaml:"name"`
	Branch   string         `yaml:"branch,omitempty"`
}

// Link configures how one upstream repository syncs to its forks.
// A nil To means "fork-all": every fork of From is a target.
type Link struct {
	From          RepoDescriptor  `yaml:"from"`
	To            *RepoDescriptor `yaml:"to,omitempty"`
	Owner         string          `yaml:"owner,omitempty"`
	Enabled       bool            `yaml:"enabled"`
	EphemeralRepo bool            `yaml:"ephemeralRepo,omitempty"`
}

// Store resolves the link governing a repository. A miss returns (nil, nil);
// callers apply default behavior.
type Store interface {
	LinkFor(ctx context.Context, platform forge.Platform, owner, name string) (*Link, error)
}

// Static is a fixed in-memory Store.
type Static []Link

func (s Static) LinkFor(ctx context.Context, platform forge.Platform, owner, name string) (*Link, error) {
	for i := range s {
		l := &s[i]
		if l.From.Platform == platform && l.From.Owner == owner && l.From.Name == name {
			return l, nil
		}
		if l.To != nil && l.To.Platform == platform && l.To.Owner == owner && l.To.Name == name {
			return l, nil
		}
	}
	return nil, nil
}

type linksFile struct {
	Links []Link `yaml:"links"`
}

// LoadFile reads a links YAML file into a Static store.
func LoadFile(path string) (Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading links file: %w", err)
	}
	var f linksFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("parsing links file %s: %w", path, err)
	}
	return Static(f.Links), nil
}
