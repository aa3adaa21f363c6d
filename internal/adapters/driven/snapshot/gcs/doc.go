// Package gcs provides a snapshot backend storing records as
// newline-delimited chunk objects in a Google Cloud Storage bucket.
//
// A snapshot with id X under prefix P is laid out as:
//
//	P/X/snapshot.json            manifest written on create
//	P/X/documents/000001.jsonl   bulk chunks
//	P/X/changefeed/000001.jsonl  tail chunks
//
// Chunks are flushed every ChunkRecords records and when the log is
// closed. Bucket listings are lexicographic, so zero-padded chunk names
// enumerate in write order.
package gcs
