package main

import (
	"github.com/SIgmaboy6796/game2/cmd"
	"github.com/SIgmaboy6796/game2/internal/logging"
)

func main() {
	logging.Init(logging.LevelFromEnv(logging.DefaultCLILevel))
	cmd.Execute()
}
