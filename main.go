package main

import "github.com/samogod/ggufprep/cmd"

func main() {
	cmd.Execute()
}
