package main

import "github.com/wardenhq/warden/cmd/warden/cli"

func main() {
	cli.Execute()
}
