// Command fvflow runs buoyant compressible flow cases with evaporating
// sprays and films.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Version of fvflow.
const Version = "0.1.0"

func init() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
		DisableSorting:  true,
	})
}

func main() {
	if err := Root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
