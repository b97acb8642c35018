package main

import "github.com/propflow/handoff/cmd"

func main() {
	cmd.Execute()
}
