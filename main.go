package main

import "mediadrop/cmd"

func main() {
	cmd.Execute()
}
