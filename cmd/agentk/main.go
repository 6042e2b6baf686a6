package main

import "github.com/agentk-dev/agentk/internal/cli"

func main() {
	cli.Execute()
}
