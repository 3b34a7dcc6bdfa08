// Command imgdrop runs and talks to an anonymous image hosting service.
//
// "imgdrop serve" answers on four routes: GET / returns a JSON descriptor for
// uploader clients, POST /upload accepts a multipart upload in the "file"
// field and returns a lookup key and a deletion key, GET /{lookupKey} streams
// the file back, and GET /delete/{deletionKey} removes it. The deletion key is
// only ever returned by the upload.
//
// Uploaded files live in a blob store (a directory, or an S3 bucket), and a
// metadata store (SQLite, Bolt or DynamoDB) maps keys to files. "imgdrop
// sweep" reports, and with --repair removes, entries of either store that have
// no counterpart in the other.
//
// Configuration is read from an rjson file, by default
// $HOME/lib/imgdrop/imgdrop.config.
package main // import "github.com/nicolagi/imgdrop/cmd/imgdrop"
