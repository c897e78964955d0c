package main

import "chatsave/cmd"

func main() {
	cmd.Execute()
}
