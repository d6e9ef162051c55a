package main

import (
	"github.com/DarsheeeGamer/NetConduit/cmd"
)

func main() {
	cmd.Execute()
}
