// hahaha shuts down the sidecars of Kubernetes pods whose main container has
// finished, so that Jobs and CronJobs can complete.
//
// Usage:
//
//	hahaha run                       # controller mode
//	hahaha run --namespace batch     # watch a single namespace
//	hahaha sidecars                  # list supported sidecars
package main

import "github.com/nais/hahaha/cmd"

var version = "dev"

func main() {
	cmd.Execute(version)
}
