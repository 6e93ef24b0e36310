package worker

import (
	"github.com/rs/zerolog"

	"github.com/instruqt/sandbox-broker/pkg/log"
)

func loopLogger(name string) zerolog.Logger {
	return log.WithComponent("worker." + name)
}
