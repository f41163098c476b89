// Package models defines the wire formats of an anchored batch: the anchor
// string carried on the ledger and the gzip-compressed JSON files stored in
// the CAS (core index file and chunk file).
package models
