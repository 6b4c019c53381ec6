package main

import "github.com/agentic-research/metromap/cmd"

func main() {
	cmd.Execute()
}
