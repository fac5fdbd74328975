// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package retrieval

import (
	"errors"
	"fmt"

	"github.com/poiesic/medrag/core"
)

var (
	// ErrStoreRequired is returned when a vector store is not provided.
	ErrStoreRequired = errors.New("vector store required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")
)

// InsufficientContextError reports a FreeFormQA retrieval whose best
// candidate scored below the relevance floor.
type InsufficientContextError struct {
	Generation core.Generation
	BestScore  float32
	Candidates int
}

func (e *InsufficientContextError) Error() string {
	return fmt.Sprintf("%v: best score %.3f over %d candidates at generation %d",
		core.ErrInsufficientContext, e.BestScore, e.Candidates, e.Generation)
}

func (e *InsufficientContextError) Unwrap() error {
	return core.ErrInsufficientContext
}
