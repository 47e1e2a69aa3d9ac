// Package google loads per-account OAuth2 tokens and builds authorized HTTP
// clients for the Google Calendar and Gmail adapters.
//
// Tokens are JSON-encoded oauth2.Token values stored as
// <token_dir>/<account>.json. Obtaining them is outside the scope of ASH;
// when client credentials are configured, expired access tokens are renewed
// with the stored refresh token.
package google
