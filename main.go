package main

import "mevi/cmd"

func main() {
	cmd.Execute()
}
