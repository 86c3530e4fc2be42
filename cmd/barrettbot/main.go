package main

import "github.com/Andresuito/barrett-bot/internal/cli"

func main() {
	cli.Execute()
}
