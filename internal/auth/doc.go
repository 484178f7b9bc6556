// Package auth provides JWT-based authentication for lawbuddy.
//
// Tokens are HS256-signed JWTs carrying the user ID in the "sub" claim and
// an optional display name in "name". Websocket clients pass the token as a
// "token" query parameter since browsers cannot set headers on websocket
// upgrade requests; plain HTTP endpoints use the Authorization header.
package auth
