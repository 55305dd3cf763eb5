package main

import (
	"github.com/joho/godotenv"

	"github.com/tendant/simple-idm-stepflow/cmd/stepflowctl/cmd"
)

func main() {
	_ = godotenv.Load()
	cmd.Execute()
}
