package main

import (
	"exchange-core/internal/cli"
)

func main() {
	cli.Execute()
}
