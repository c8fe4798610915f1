package main

import "github.com/kozaktomas/face-search/cmd"

func main() {
	cmd.Execute()
}
