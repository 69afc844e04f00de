package main

import "github.com/DominicWuest/bisector/cmd"

func main() {
	cmd.Execute()
}
