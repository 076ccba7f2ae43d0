package main

import "github.com/blind-guess-senior/gamekit/cmd/gamekit/cmd"

func main() {
	cmd.Execute()
}
