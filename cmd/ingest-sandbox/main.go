// Command ingest-sandbox runs a local ingestion service that accepts rows
// over HTTP and gRPC, issues OAuth tokens and can reject rows by rule.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
