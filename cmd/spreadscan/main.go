package main

import "spread-scanner/internal/cli"

func main() {
	cli.Execute()
}
