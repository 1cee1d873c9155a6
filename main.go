package main

import "github.com/gkatanacio/rangestream/cmd"

func main() {
	cmd.Execute()
}
