package main

import "connswarm/cmd"

func main() {
	cmd.Execute()
}
