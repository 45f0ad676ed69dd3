package storage

import (
	"time"

	"golang.org/x/oauth2"
)

// TokenRecord is the persisted shape of one token set. Times are unix
// seconds; ExpiresAt zero means the access token does not expire.
type TokenRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	StoredAt     int64  `json:"stored_at"`
}

// Clone returns a copy so callers cannot mutate a store's record in place.
func (r *TokenRecord) Clone() *TokenRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// OAuth2Token converts the record to an oauth2.Token for use with
// golang.org/x/oauth2 consumers.
func (r *TokenRecord) OAuth2Token() *oauth2.Token {
	if r == nil {
		return nil
	}
	tok := &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
	}
	if r.ExpiresAt > 0 {
		tok.Expiry = time.Unix(r.ExpiresAt, 0)
	}
	return tok
}

// RecordFromOAuth2Token converts an oauth2.Token into a TokenRecord.
func RecordFromOAuth2Token(tok *oauth2.Token, storedAt time.Time) *TokenRecord {
	if tok == nil {
		return nil
	}
	rec := &TokenRecord{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		StoredAt:     storedAt.Unix(),
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		rec.Scope = scope
	}
	if !tok.Expiry.IsZero() {
		rec.ExpiresAt = tok.Expiry.Unix()
	}
	return rec
}
