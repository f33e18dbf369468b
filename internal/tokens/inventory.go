// Package tokens tracks provisioned authentication tokens so enrollment
// limits and realm lookups can be answered without the token database.
package tokens

import (
	"context"
)

// Token is one provisioned credential as the inventory sees it. Realm is
// the owner's realm; Realms lists every realm the token is visible in,
// which drives realm counting and serial lookups.
type Token struct {
	Serial   string   `json:"serial"`
	Type     string   `json:"type,omitempty"`
	Username string   `json:"username,omitempty"`
	Realm    string   `json:"realm,omitempty"`
	Realms   []string `json:"realms,omitempty"`
	Active   bool     `json:"active"`
}

// Inventory answers the questions the enrollment pre-conditions ask:
// how many tokens a user or realm already has, and which realms a
// serial belongs to.
type Inventory interface {
	// CountForUser returns the number of tokens assigned to the user
	// in the given realm.
	CountForUser(ctx context.Context, username, realm string) (int, error)

	// CountForRealm returns the number of tokens visible in the realm.
	CountForRealm(ctx context.Context, realm string) (int, error)

	// RealmsOfSerial returns the realms the token with the given serial
	// is visible in. An unknown serial yields an empty slice, not an
	// error.
	RealmsOfSerial(ctx context.Context, serial string) ([]string, error)
}
