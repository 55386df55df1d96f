package main

import "github.com/RassulYunussov/sessionhttp/cmd/sessionhttp/cmd"

func main() {
	cmd.Execute()
}
