package dispatch

import "context"

// InitArgs is everything a Launcher needs to bring up a worker and
// complete its init/ready handshake.
type InitArgs struct {
	WorkerIndex  int
	ProjectIndex int
	FixtureHash  string
	Config       []byte
}

// Launcher starts a worker (a real loom subprocess re-exec'd in worker mode, or an
// in-process fake for tests) and completes its init/ready handshake
// before returning. The returned Conn's Close must be safe to call even
// if the worker has already exited on its own.
type Launcher interface {
	Launch(ctx context.Context, args InitArgs) (*Conn, error)
}
