package main

import "github.com/nfrund/watchparty/cmd/watchparty/cmd"

func main() {
	cmd.Execute()
}
