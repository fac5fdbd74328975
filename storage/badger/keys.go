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

package badger

import (
	"encoding/binary"

	"github.com/poiesic/medrag/core"
)

// Key prefixes for different data types
const (
	entryPrefix     = "ent:"
	diagnosisPrefix = "diag:"
	patientPrefix   = "pat:"

	generationKey = "meta:generation"
	dimensionKey  = "meta:dimension"
	schemaKey     = "meta:schema"
)

// makeEntryKey generates the key for an index entry by source-document id.
// Format: prefix + BigEndian(IDFromContent(recordID))
func makeEntryKey(recordID string) []byte {
	buf := make([]byte, len(entryPrefix)+8)
	offset := copy(buf, entryPrefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(core.IDFromContent(recordID)))
	return buf
}

// makeEntryKeyFromID rebuilds an entry key from the hashed id stored in an index key.
func makeEntryKeyFromID(id core.ID) []byte {
	buf := make([]byte, len(entryPrefix)+8)
	offset := copy(buf, entryPrefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makeIndexKey generates a composite key for a metadata index.
// Format: prefix + value + 0x00 + BigEndian(id)
// The separator keeps "fever" from prefix-matching "fever, viral".
func makeIndexKey(prefix, value, recordID string) []byte {
	partial := makePartialIndexKey(prefix, value)
	buf := make([]byte, len(partial)+8)
	offset := copy(buf, partial)
	binary.BigEndian.PutUint64(buf[offset:], uint64(core.IDFromContent(recordID)))
	return buf
}

// makePartialIndexKey generates the scan prefix for one indexed value.
// Format: prefix + value + 0x00
func makePartialIndexKey(prefix, value string) []byte {
	buf := make([]byte, len(prefix)+len(value)+1)
	offset := copy(buf, prefix)
	copy(buf[offset:], value)
	return buf
}

// idFromIndexKey extracts the hashed record id from the tail of an index key.
func idFromIndexKey(key []byte) core.ID {
	return core.ID(binary.BigEndian.Uint64(key[len(key)-8:]))
}

// indexKeys returns every secondary index key for an entry.
func indexKeys(entry *core.IndexEntry) [][]byte {
	keys := make([][]byte, 0, len(entry.Metadata.DiagnosisKeys)+1)
	for _, k := range entry.Metadata.DiagnosisKeys {
		keys = append(keys, makeIndexKey(diagnosisPrefix, k, entry.RecordID))
	}
	if entry.Metadata.PatientKey != "" {
		keys = append(keys, makeIndexKey(patientPrefix, entry.Metadata.PatientKey, entry.RecordID))
	}
	return keys
}
