// Package core holds the integration domain: tenants, inbound webhook
// records, autonomous change requests, outbound subscriptions, the store
// contracts they persist through, and the shared error, config and
// observability helpers. Provider, transport and storage adapters depend on
// core; core depends on none of them.
package core
