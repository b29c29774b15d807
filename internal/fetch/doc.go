// Package fetch downloads recipe source tarballs into a shared,
// digest-addressed cache and verifies every artifact against its declared
// BLAKE2b digest before it is ever handed to a build.
package fetch
