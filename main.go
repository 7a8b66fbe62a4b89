package main

import "github.com/lteinsight/emmkpi/cmd"

func main() {
	cmd.Execute()
}
