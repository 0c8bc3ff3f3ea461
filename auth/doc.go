// Package auth holds the authentication collaborator of fetch subscribers.
//
// It defines the NotAuthorized error kind and its classification, and a
// credential Session whose ExpireCredentials mutator is invoked by the fetch
// core when a backend rejects the current credentials. Sessions carry a
// bearer token (a JWT) and expose the identity decoded from it.
package auth
