package main

import "github.com/bradenmweight/gpaw/cmd"

func main() {
	cmd.Execute()
}
