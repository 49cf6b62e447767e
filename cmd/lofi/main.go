package main

import "github.com/lofivibes/api/internal/cli"

func main() {
	cli.Execute()
}
