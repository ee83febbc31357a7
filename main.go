package main

import "github.com/telemy/aegis-shim/cmd"

func main() {
	cmd.Execute()
}
