package main

import "github.com/planbiir/drivelog/internal/cli"

func main() {
	cli.Execute()
}
