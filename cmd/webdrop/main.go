package main

import "webdrop/internal/cli"

func main() {
	cli.Execute()
}
