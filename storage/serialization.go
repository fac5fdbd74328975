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

package storage

import (
	"fmt"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/medrag/core"
)

// SchemaVersion identifies the IndexEntry encoding. Stored values carrying a
// different version are reported as ErrCorrupted.
const SchemaVersion uint64 = 1

// MarshalUint64 serializes a counter value to bytes.
func MarshalUint64(v uint64) []byte {
	buf := make([]byte, varint.Uint64.Size(v))
	varint.Uint64.Marshal(v, buf)
	return buf
}

// UnmarshalUint64 deserializes a counter value from bytes.
func UnmarshalUint64(data []byte) (uint64, error) {
	v, _, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return v, nil
}

// MarshalIndexEntry serializes an IndexEntry to bytes.
func MarshalIndexEntry(entry *core.IndexEntry) []byte {
	buf := make([]byte, sizeIndexEntry(entry))
	n := varint.Uint64.Marshal(SchemaVersion, buf)
	n += ord.String.Marshal(entry.RecordID, buf[n:])
	n += varint.Uint64.Marshal(uint64(entry.Generation), buf[n:])
	n += varint.Uint64.Marshal(uint64(len(entry.Vector)), buf[n:])
	for _, f := range entry.Vector {
		n += raw.Float32.Marshal(f, buf[n:])
	}
	m := &entry.Metadata
	n += marshalStrings(m.Diagnoses, buf[n:])
	n += marshalStrings(m.DiagnosisKeys, buf[n:])
	n += ord.String.Marshal(m.Patient, buf[n:])
	n += ord.String.Marshal(m.PatientKey, buf[n:])
	n += ord.String.Marshal(m.Doctor, buf[n:])
	n += marshalStrings(m.Treatments, buf[n:])
	n += ord.String.Marshal(m.Narrative, buf[n:])
	ord.String.Marshal(m.FollowUp, buf[n:])
	return buf
}

// UnmarshalIndexEntry deserializes an IndexEntry from bytes.
// Any decode failure or schema mismatch wraps ErrCorrupted.
func UnmarshalIndexEntry(data []byte) (*core.IndexEntry, error) {
	d := &decoder{bs: data}
	if version := d.uint64(); d.err == nil && version != SchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d, want %d", ErrCorrupted, version, SchemaVersion)
	}

	entry := &core.IndexEntry{}
	entry.RecordID = d.string()
	entry.Generation = core.Generation(d.uint64())
	entry.Vector = d.float32s()
	m := &entry.Metadata
	m.Diagnoses = d.strings()
	m.DiagnosisKeys = d.strings()
	m.Patient = d.string()
	m.PatientKey = d.string()
	m.Doctor = d.string()
	m.Treatments = d.strings()
	m.Narrative = d.string()
	m.FollowUp = d.string()

	if d.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupted, d.err)
	}
	if d.off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupted, len(data)-d.off)
	}
	return entry, nil
}

func sizeIndexEntry(entry *core.IndexEntry) int {
	size := varint.Uint64.Size(SchemaVersion)
	size += ord.String.Size(entry.RecordID)
	size += varint.Uint64.Size(uint64(entry.Generation))
	size += varint.Uint64.Size(uint64(len(entry.Vector)))
	for _, f := range entry.Vector {
		size += raw.Float32.Size(f)
	}
	m := &entry.Metadata
	size += sizeStrings(m.Diagnoses)
	size += sizeStrings(m.DiagnosisKeys)
	size += ord.String.Size(m.Patient)
	size += ord.String.Size(m.PatientKey)
	size += ord.String.Size(m.Doctor)
	size += sizeStrings(m.Treatments)
	size += ord.String.Size(m.Narrative)
	size += ord.String.Size(m.FollowUp)
	return size
}

func sizeStrings(ss []string) int {
	size := varint.Uint64.Size(uint64(len(ss)))
	for _, s := range ss {
		size += ord.String.Size(s)
	}
	return size
}

func marshalStrings(ss []string, bs []byte) int {
	n := varint.Uint64.Marshal(uint64(len(ss)), bs)
	for _, s := range ss {
		n += ord.String.Marshal(s, bs[n:])
	}
	return n
}

// decoder reads fields sequentially and keeps the first error.
type decoder struct {
	bs  []byte
	off int
	err error
}

func (d *decoder) uint64() uint64 {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(d.bs[d.off:])
	d.off += n
	d.err = err
	return v
}

func (d *decoder) string() string {
	if d.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(d.bs[d.off:])
	d.off += n
	d.err = err
	return v
}

// length reads a collection length and rejects lengths that cannot fit in
// the remaining bytes, given each element takes at least minSize bytes.
func (d *decoder) length(minSize int) int {
	l := d.uint64()
	if d.err != nil {
		return 0
	}
	if l > uint64((len(d.bs)-d.off)/minSize) {
		d.err = ErrTruncatedData
		return 0
	}
	return int(l)
}

func (d *decoder) strings() []string {
	l := d.length(1)
	if l == 0 {
		return nil
	}
	out := make([]string, 0, l)
	for range l {
		s := d.string()
		if d.err != nil {
			return nil
		}
		out = append(out, s)
	}
	return out
}

func (d *decoder) float32s() []float32 {
	l := d.length(4)
	if l == 0 {
		return nil
	}
	out := make([]float32, 0, l)
	for range l {
		v, n, err := raw.Float32.Unmarshal(d.bs[d.off:])
		d.off += n
		if err != nil {
			d.err = err
			return nil
		}
		out = append(out, v)
	}
	return out
}
