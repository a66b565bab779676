package main

import "github.com/nextlevelbuilder/relaycore/cmd"

func main() {
	cmd.Execute()
}
