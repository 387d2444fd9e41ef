package main

import "github.com/campuslink/cskeep/cmd/cskeep/cmd"

func main() {
	cmd.Execute()
}
