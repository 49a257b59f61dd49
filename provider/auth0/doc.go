// Package auth0 provides an accounts.IdentityStore backed by the Auth0
// management API.
//
// Role and membership metadata are written to app_metadata so the tenant's
// post registration action can materialize member profiles.
package auth0
