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


package normalize

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/poiesic/medrag/core"
)

// FileError reports a structured-note file that could not be read or decoded.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// IsNoteFile reports whether path names a structured-note file.
func IsNoteFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// SourceID returns the record id for a note file: its name without extension.
func SourceID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadFile reads one structured note. The record id is always the file stem.
func LoadFile(path string) (*RawDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, &FileError{Path: path, Err: fmt.Errorf("%w: %w", core.ErrNormalization, err)}
	}
	doc.ID = SourceID(path)
	return doc, nil
}

// LoadFolder reads every *.json note in dir, sorted by file name.
// Files that fail to load are returned as failures; the rest still load.
// The returned error is non-nil only when the directory itself cannot be read.
func LoadFolder(dir string) ([]*RawDocument, []error, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && IsNoteFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		docs     []*RawDocument
		failures []error
	)
	for _, name := range names {
		doc, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			failures = append(failures, err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, failures, nil
}
