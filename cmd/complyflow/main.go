package main

import "github.com/complyflow/complyflow/cmd/complyflow/cmd"

func main() {
	cmd.Execute()
}
