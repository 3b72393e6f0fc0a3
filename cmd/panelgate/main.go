package main

import "github.com/jmcleod/panelgate/cmd/panelgate/cmd"

func main() {
	cmd.Execute()
}
