package main

import "github.com/kozaktomas/album-suggester/cmd"

func main() {
	cmd.Execute()
}
