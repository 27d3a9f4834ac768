package main

import "github.com/dativo-io/superadvisor/internal/cmd"

func main() {
	cmd.Execute()
}
