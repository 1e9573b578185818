package loggers

import (
	"github.com/sirupsen/logrus"
)

// New builds the application logger. Production gets JSON lines for log
// shippers; anything else gets the human-readable text formatter.
func New(level string, production bool) *logrus.Logger {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	if production {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
