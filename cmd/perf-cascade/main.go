// Command perf-cascade runs the functional and performance analysis pipeline
// and serves its results.
package main

import "os"

func main() {
	os.Exit(Execute(os.Args[1:], os.Stdout, os.Stderr))
}
