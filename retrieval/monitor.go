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

import "github.com/poiesic/medrag/core"

// Monitor receives callbacks at each stage of a retrieval.
type Monitor interface {
	Start(query Query)
	Classified(class core.QueryClass)
	DiagnosisResolved(keys []string, fuzzy bool)
	AfterCandidateSearch(candidates []*core.Candidate)
	Finish(result *Result)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ Query)                            {}
func (n *noopMonitor) Classified(_ core.QueryClass)             {}
func (n *noopMonitor) DiagnosisResolved(_ []string, _ bool)     {}
func (n *noopMonitor) AfterCandidateSearch(_ []*core.Candidate) {}
func (n *noopMonitor) Finish(_ *Result)                         {}
