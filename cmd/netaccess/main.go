package main

import "netaccess/internal/cli"

func main() {
	cli.Execute()
}
