// Package transport executes HTTP requests against remote APIs and turns
// transport failures and non-2xx responses into classified errors.
package transport
