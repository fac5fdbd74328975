// Package reembed rebuilds the vectors of existing index entries with a new or
// updated embedding model.
//
// Entries are re-embedded from the narrative stored in their metadata, so the
// original note files are not needed. All vectors are computed before the
// index is touched; a failure leaves the index as it was.
package reembed
