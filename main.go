package main

import "github.com/sw33tLie/pbxsched/cmd"

func main() {
	cmd.Execute()
}
