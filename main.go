package main

import "task-orchestrator/cmd"

func main() {
	cmd.Execute()
}
