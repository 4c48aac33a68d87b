package main

import "gonexia/cmd"

func main() {
	cmd.Execute()
}
