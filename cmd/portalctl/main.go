package main

import "github.com/jacobrosenfeld/etearsheet-uploader/internal/cli"

func main() {
	cli.Execute()
}
