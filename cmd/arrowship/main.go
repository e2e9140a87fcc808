// Command arrowship sends Arrow IPC files to an ingestion endpoint.
//
// Usage:
//
//	arrowship validate --config arrowship.yaml
//	arrowship send --config arrowship.yaml --quarantine ./rejected events.arrows
//	arrowship spool --config arrowship.yaml --dir /var/spool/arrowship
//	arrowship check --config arrowship.yaml
package main

import (
	"os"
)

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
