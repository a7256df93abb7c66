// Package main is the entry point for the ptlogs CLI, which retrieves Power
// TAC tournament logs, runs logtool extractors over them and aggregates the
// results into windowed statistics.
package main

import "github.com/powertac/powertac-tools/cmd"

func main() {
	cmd.Execute()
}
