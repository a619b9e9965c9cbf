package main

import "github.com/datapipes/etl/cmd"

func main() {
	cmd.Execute()
}
