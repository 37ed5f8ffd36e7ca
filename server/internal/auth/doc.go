// Package auth provides authentication middleware for aeroledger-server.
//
// APIKey(mode, header, key) returns a gin middleware that validates the API
// key from the named HTTP header.
//
// When mode != "apikey" or key == "", all requests pass through (useful for
// local development with auth disabled). When the key is incorrect or absent,
// the middleware aborts with 401 Unauthorized.
package auth
