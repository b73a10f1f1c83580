package main

import "github.com/forPelevin/trigreel/internal/cli"

func main() { cli.Main() }
