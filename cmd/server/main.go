package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/Tyrowin/voicerelay/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}
