// Package server implements the HTTP server and HTTP handlers for
// slugbin. It wires together the routes, their dependencies (catalog
// database, disk object store, remote backup client) and the background
// retention reclaimer, and provides lifecycle helpers used by tests and
// the production binary.
package server
