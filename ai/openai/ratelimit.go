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

package openai

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// limiter throttles calls to one model endpoint with a token bucket.
// A nil limiter never blocks.
type limiter struct {
	bucket *rate.Limiter
}

// newLimiter returns nil when rps is zero, meaning unlimited.
func newLimiter(rps float64) *limiter {
	if rps <= 0 {
		return nil
	}
	burst := max(1, int(math.Ceil(rps)))
	return &limiter{bucket: rate.NewLimiter(rate.Limit(rps), burst)}
}

// wait blocks until a call is allowed or ctx is done.
func (l *limiter) wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.bucket.Wait(ctx)
}
