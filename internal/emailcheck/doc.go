// Package emailcheck asks an external service whether an email address is
// deliverable before the chat widget accepts it.
package emailcheck
