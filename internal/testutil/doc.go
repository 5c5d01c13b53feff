// Package testutil contains helpers shared by package tests: event
// collection, a responder that blocks until released and a builder for
// pre-populated sessions. They are not intended for production usage.
package testutil
