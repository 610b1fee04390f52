package main

import "github.com/vietddude/inframate/internal/cli"

func main() {
	cli.Execute()
}
