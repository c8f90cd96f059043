package main

import "github.com/ytserve/ytserve/cmd"

func main() {
	cmd.Execute()
}
