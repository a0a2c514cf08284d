// Package rpcserver exposes sandbox execution over a JSON-RPC 2.0
// protocol with Content-Length framed messages. The transport reads
// frames from an arbitrary reader and writes responses to a writer,
// normally stdin and stdout, while all logging stays on stderr.
package rpcserver
