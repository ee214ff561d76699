// Package auth stores cpctl bearer tokens and obtains new ones with the
// OAuth2 client credentials grant.
package auth
