package main

import "github.com/Hi-dle-hancom/frontend-sub003/cmd"

func main() {
	cmd.Execute()
}
