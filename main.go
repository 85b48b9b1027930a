package main

import "github.com/nextlevelbuilder/gocrawl/cmd"

func main() {
	cmd.Execute()
}
