package main

import "github.com/gren-lsp/agentlock/internal/cli"

func main() {
	cli.Execute()
}
