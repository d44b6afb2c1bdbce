package main

import "github.com/iliyamo/techland/cmd/server/cmd"

func main() {
	cmd.Execute()
}
