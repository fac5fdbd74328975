// Package index embeds normalized clinical records and upserts them into the
// vector store.
//
// Each record's narrative is embedded, unit-normalized and written together
// with its filter metadata in one store commit, so readers never observe a
// new vector paired with old metadata. Work for distinct record ids runs in
// parallel on a worker pool; work for the same id is serialized.
//
// A vector whose length differs from the store's fixed dimension halts the
// indexer. Every later call fails with core.ErrIndexerHalted until Reindex
// resets the store.
package index
