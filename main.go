package main

import "komikbot/cmd"

func main() {
	cmd.Execute()
}
