// Package file provides snapshot backends that store records as
// newline-delimited JSON on the local filesystem.
//
// Two layouts are supported:
//
//   - Backend ("file") keeps each segment in its own stream:
//     <dir>/<id>/bulk.jsonl and <dir>/<id>/tail.jsonl.
//   - SingleBackend ("file-single") writes one stream, <dir>/<id>.jsonl.
//     Tail records are spooled to a side file while the capture runs and
//     appended after a "#tail" marker line when the log is closed, so the
//     file always reads bulk first.
//
// Bodies are compacted before they are written, so one line holds one
// document. Blank lines are ignored when reading.
package file
