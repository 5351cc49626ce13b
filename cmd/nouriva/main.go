package main

import "github.com/goliatone/go-access/cmd/nouriva/cmd"

func main() {
	cmd.Execute()
}
