package main

import (
	"os"

	"noticebot/cmd/noticebot/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
