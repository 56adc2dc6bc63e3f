package main

import (
	"os"

	"github.com/schmitthub/ralph/internal/ralph"
)

func main() {
	os.Exit(ralph.Main())
}
