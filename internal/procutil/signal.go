package procutil

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

func notify(ch chan<- os.Signal) {
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM)
}
