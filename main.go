package main

import "shapebench/cmd"

func main() {
	cmd.Execute()
}
