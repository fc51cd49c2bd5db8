package main

import "pifs/cmd"

func main() {
	cmd.Execute()
}
