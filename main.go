package main

import "github.com/kpelzel/sacnproxy/cmd"

func main() {
	cmd.Execute()
}
