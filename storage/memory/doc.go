// Package memory provides an in-memory implementation of the storage
// interfaces.
//
// This package implements TokenStore and ClientStore using Go's built-in
// maps with mutex protection for thread safety. It is suitable for
// development, testing, and short-lived processes where persistence is not
// required.
//
// Records are copied on save and load, so mutating a record after a call
// never affects the store's contents.
//
// For real deployments that must survive process restarts, use the
// storage/file package instead.
//
// Example usage:
//
//	store := memory.New()
//	client, _ := oauthclient.NewClient(serverURL, userID, config, store)
package memory
