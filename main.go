package main

import "github.com/agentic-research/h5mirror/cmd"

func main() {
	cmd.Execute()
}
