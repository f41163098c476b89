// Package did implements the DID method logic shared by protocol versions:
// operation request parsing and validation, DID suffix derivation and
// document patch application.
package did
