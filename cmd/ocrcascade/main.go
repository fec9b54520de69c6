package main

import "github.com/MeKo-Tech/ocrcascade/cmd/ocrcascade/cmd"

func main() {
	cmd.Execute()
}
