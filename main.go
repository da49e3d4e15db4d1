package main

import "github.com/cocofetch/cocofetch/cmd"

func main() {
	cmd.Execute()
}
