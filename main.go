package main

import "github.com/parthshah1/flow-harness/cmd"

func main() {
	cmd.Execute()
}
