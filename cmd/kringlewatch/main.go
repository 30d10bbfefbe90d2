package main

import "kringlewatch/internal/cli"

func main() {
	cli.Execute()
}
