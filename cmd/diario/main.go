package main

import "github.com/felixgeelhaar/diario/cmd/diario/cli"

func main() {
	cli.Execute()
}
