// Package logging provides the process-wide structured logger used by
// every package in this module. It generalizes the teacher's ad hoc
// fmt.Printf("[BufferPool] ...") / fmt.Printf("[BTree] ...") /
// fmt.Printf("[TXN] ...") prefixes into logrus fields, so a component's
// identity is queryable structured data ("component": "bufferpool")
// instead of a string prefix a log-scraper has to parse.
package logging

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once   sync.Once
	logger *logrus.Logger
)

// Get returns the shared logger, creating it with sensible defaults
// (Info level, text output on stderr) on first use.
func Get() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	})
	return logger
}

// SetLevel adjusts the shared logger's verbosity. Called from config.Apply.
func SetLevel(level logrus.Level) {
	Get().SetLevel(level)
}

// For returns a logger scoped to a named component, e.g. For("bufferpool").
func For(component string) *logrus.Entry {
	return Get().WithField("component", component)
}
