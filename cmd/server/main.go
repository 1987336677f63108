// Package main is the entry point for the identity service.
//
// The binary has two command groups:
//
//	identity-service serve            start the HTTP server
//	identity-service migrate up       apply pending schema migrations
//	identity-service migrate status   print the applied schema version
//
// All configuration comes from the environment (see internal/config).
// Running with no command is the same as `serve`.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
