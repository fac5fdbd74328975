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


package core

import (
	"fmt"
	"strings"
)

// ValidateRecord validates a ClinicalRecord according to domain rules.
//
// Validation rules:
//   - ID must not be empty
//   - Narrative must contain non-whitespace text
//
// NOT validated:
//   - Patient (notes without a legible patient name are still searchable)
//   - Diagnoses and Prescriptions (may be empty)
func ValidateRecord(record *ClinicalRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrNormalization)
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("%w: %w", ErrNormalization, ErrEmptyRecordID)
	}
	if strings.TrimSpace(record.Narrative) == "" {
		return fmt.Errorf("%w: %s: %w", ErrNormalization, record.ID, ErrEmptyNarrative)
	}
	return nil
}

// ValidateVector checks a vector against the index dimension.
// A dimension of 0 means the index has not fixed its dimension yet.
func ValidateVector(vector []float32, dimension int) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty vector", ErrIndex)
	}
	if dimension > 0 && len(vector) != dimension {
		return &DimensionError{Expected: dimension, Actual: len(vector)}
	}
	return nil
}
