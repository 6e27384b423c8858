// Package core contains the canonical integration domain: contracts,
// entities, and the orchestration service that brokers OAuth2 grants.
// Lower-level adapters must depend on this package; core must not depend on
// provider-specific or storage-specific adapters.
package core
