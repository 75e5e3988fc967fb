package ipc

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/loomtest/loom/internal/errors"
)

// ParentWriter writes parent->worker messages. Safe for concurrent use.
type ParentWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewParentWriter returns a ParentWriter writing newline-delimited JSON to w.
func NewParentWriter(w io.Writer) *ParentWriter {
	return &ParentWriter{enc: json.NewEncoder(w)}
}

// Write encodes msg, which must be one of *Init, *Run, *Stop.
func (w *ParentWriter) Write(msg interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch v := msg.(type) {
	case *Init:
		return w.enc.Encode(&parentUnion{Init: v})
	case *Run:
		return w.enc.Encode(&parentUnion{Run: v})
	case *Stop:
		return w.enc.Encode(&parentUnion{Stop: v})
	default:
		return errors.Errorf("ipc: cannot encode parent message of type %T", msg)
	}
}

// ParentReader reads parent->worker messages, as seen by a worker.
type ParentReader struct {
	dec *json.Decoder
}

// NewParentReader returns a ParentReader reading from r.
func NewParentReader(r io.Reader) *ParentReader {
	return &ParentReader{dec: json.NewDecoder(r)}
}

// Read returns the next message as *Init, *Run, or *Stop.
func (r *ParentReader) Read() (interface{}, error) {
	var u parentUnion
	if err := r.dec.Decode(&u); err != nil {
		return nil, err
	}
	switch {
	case u.Init != nil:
		return u.Init, nil
	case u.Run != nil:
		return u.Run, nil
	case u.Stop != nil:
		return u.Stop, nil
	default:
		return nil, errors.New("ipc: decoded parent message of unknown type")
	}
}

// WorkerWriter writes worker->parent messages. Safe for concurrent use.
type WorkerWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWorkerWriter returns a WorkerWriter writing newline-delimited JSON to w.
func NewWorkerWriter(w io.Writer) *WorkerWriter {
	return &WorkerWriter{enc: json.NewEncoder(w)}
}

// Write encodes msg, which must be one of *Ready, *TestBegin, *Stdio,
// *TestEnd, *TeardownError, *Done.
func (w *WorkerWriter) Write(msg interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch v := msg.(type) {
	case *Ready:
		return w.enc.Encode(&workerUnion{Ready: v})
	case *TestBegin:
		return w.enc.Encode(&workerUnion{TestBegin: v})
	case *Stdio:
		return w.enc.Encode(&workerUnion{Stdio: v})
	case *TestEnd:
		return w.enc.Encode(&workerUnion{TestEnd: v})
	case *TeardownError:
		return w.enc.Encode(&workerUnion{TeardownError: v})
	case *Done:
		return w.enc.Encode(&workerUnion{Done: v})
	default:
		return errors.Errorf("ipc: cannot encode worker message of type %T", msg)
	}
}

// WorkerReader reads worker->parent messages, as seen by the dispatcher.
type WorkerReader struct {
	dec *json.Decoder
}

// NewWorkerReader returns a WorkerReader reading from r.
func NewWorkerReader(r io.Reader) *WorkerReader {
	return &WorkerReader{dec: json.NewDecoder(r)}
}

// Read returns the next message as one of *Ready, *TestBegin, *Stdio,
// *TestEnd, *TeardownError, *Done.
func (r *WorkerReader) Read() (interface{}, error) {
	var u workerUnion
	if err := r.dec.Decode(&u); err != nil {
		return nil, err
	}
	switch {
	case u.Ready != nil:
		return u.Ready, nil
	case u.TestBegin != nil:
		return u.TestBegin, nil
	case u.Stdio != nil:
		return u.Stdio, nil
	case u.TestEnd != nil:
		return u.TestEnd, nil
	case u.TeardownError != nil:
		return u.TeardownError, nil
	case u.Done != nil:
		return u.Done, nil
	default:
		return nil, errors.New("ipc: decoded worker message of unknown type")
	}
}
