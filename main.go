package main

import (
	"savingbee-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
