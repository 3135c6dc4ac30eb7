package main

import "github.com/scgolang/linksync/cmd"

func main() {
	cmd.Execute()
}
