// Package providers contains the built-in cloud-storage provider adapters.
// Each subpackage configures the shared OAuth2 base with its endpoints, its
// exact identity-request contract, and its error-classification heuristics.
package providers
