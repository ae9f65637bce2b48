package main

import (
	"os"

	"crm-backend/cmd/crm/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
