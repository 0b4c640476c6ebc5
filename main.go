package main

import "github.com/claudeway/claudeway/internal/cmd"

func main() {
	cmd.Execute()
}
