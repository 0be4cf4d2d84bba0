// Package file provides the orchd.sinks.FileSink sink.
//
// # Overview
//
// The file sink writes every payload a reaction delivers to one file on
// disk. Payloads are buffered and written when the buffer fills, on a
// periodic flush and on Close.
//
// # Configuration
//
// Properties of the sink template:
//
//   - path: file to write (parent directories are created)
//   - format: "jsonl" (default), "json" (pretty printed) or "raw"
//   - append: append to an existing file instead of truncating (default true)
//   - compression: "none" (default) or "zstd"
//   - buffer_size: payloads buffered before a synchronous flush (default 100, 0 writes through)
//   - flush_interval: periodic flush interval (default 1s, 0 disables)
//
// Example template:
//
//	{
//	  "name": "io.orchd.sinks.Archive",
//	  "version": "1.0",
//	  "sink_class": "orchd.sinks.FileSink",
//	  "properties": {"path": "/var/lib/orchd/alerts.jsonl.zst", "compression": "zstd"}
//	}
//
// # Payload Encoding
//
// Byte slices and strings are written unchanged. Any other value is JSON
// encoded. In "json" format each payload is re-indented; payloads that are
// not valid JSON are written as is.
//
// # Compression
//
// With compression "zstd" the file is a sequence of zstd frames, one per
// sink lifetime, which standard zstd tools decode as a single stream.
package file
