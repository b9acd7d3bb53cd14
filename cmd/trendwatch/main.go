package main

import (
	"os"

	"trendwatch/cmd/handlers"
)

func main() {
	os.Exit(handlers.Execute())
}
