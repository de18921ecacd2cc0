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

package forge

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedPlatform is returned when no client is registered for
	// the requested hosting platform.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrNotAFork is returned when a fork-only operation targets a
	// repository that has no parent.
	ErrNotAFork = errors.New("repository is not a fork")

	// ErrNotFound is returned when the target repository, branch, or
	// proposal does not exist. It is the only error that drives
	// create-if-absent flows; everything else propagates.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateProposal is returned when an equivalent open proposal
	// already exists. Callers treat it as a benign no-op.
	ErrDuplicateProposal = errors.New("equivalent proposal already open")
)

// RemoteError wraps a transport or API failure from the hosting platform.
// StatusCode is zero when no HTTP response was received.
type RemoteError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: remote returned %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsNotFound reports whether err indicates a missing remote target.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
