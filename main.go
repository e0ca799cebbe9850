package main

import "github.com/findwatch/findwatch/cmd"

func main() {
	cmd.Execute()
}
