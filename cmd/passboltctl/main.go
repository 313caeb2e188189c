package main

import "github.com/qntoni/passboltctl/cmd/passboltctl/cmd"

func main() {
	cmd.Execute()
}
