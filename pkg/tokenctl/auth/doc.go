// Package auth decides how an access token is obtained for a public OAuth2
// client: silent lookup first, the in-process cached token while it is still
// outside the expiry buffer, and a device code or interactive flow otherwise.
package auth
