package main

import "coordinator/cmd"

// version is overridden at build time with -ldflags.
var version = "dev"

func main() {
	cmd.SetVersion(version)
	cmd.Execute()
}
