package main

import "github.com/sansecio/sigscan/internal/cli"

func main() {
	cli.Execute()
}
