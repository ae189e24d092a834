package main

import "github.com/Coherent-All-Sky-Monitor/sky-rfi/cmd"

func main() {
	cmd.Execute()
}
