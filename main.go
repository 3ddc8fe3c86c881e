package main

import "github.com/brogergvhs/mangarule/cmd"

func main() {
	cmd.Execute()
}
