// Package idp implements auth.IdentityProvider against an OpenID Connect
// issuer: discovery, device code and authorization code + PKCE grants, ID
// token verification and a provider side token cache used for silent
// acquisition.
package idp
