// Package wire implements the supervisor↔worker process protocol from
// spec.md §4.9: a small closed set of message kinds, gob-encoded and
// framed with a 4-byte big-endian length prefix over a process's stdin/
// stdout pipe.
//
// gob plus a length prefix is the one place this module reaches for the
// standard library over a corpus dependency: the candidates that show up
// elsewhere in the corpus for this concern (gRPC/protobuf) need .proto
// codegen, which the no-toolchain-execution constraint this module is
// built under rules out; gob is stdlib's own answer to "a typed wire
// format without codegen," and the teacher's own module has no transport
// dependency to inherit here regardless.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// Kind identifies the shape of a Message's Payload.
type Kind int

const (
	// Ready is sent worker → supervisor once the worker process has
	// finished its own initialization and can accept Start.
	Ready Kind = iota
	// Start is sent supervisor → worker with the (type, id, options) the
	// worker should bring up.
	Start
	// Stop is sent supervisor → worker to request a graceful shutdown.
	Stop
	// ExecuteInvoke is sent supervisor → worker to run one offloaded task,
	// carrying its correlation ID.
	ExecuteInvoke
	// ExecuteResult is sent worker → supervisor with the outcome of an
	// ExecuteInvoke, matched back to the caller by correlation ID.
	ExecuteResult
)

func (k Kind) String() string {
	switch k {
	case Ready:
		return "Ready"
	case Start:
		return "Start"
	case Stop:
		return "Stop"
	case ExecuteInvoke:
		return "ExecuteInvoke"
	case ExecuteResult:
		return "ExecuteResult"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ReadyPayload carries nothing beyond the worker's own process ID, useful
// for supervisor-side logging.
type ReadyPayload struct {
	Pid int
}

// StartPayload describes the worker the supervisor wants brought up.
type StartPayload struct {
	WorkerType string
	WorkerID   string
	Options    map[string]string
}

// StopPayload carries the deadline, in milliseconds, the worker has to
// shut down gracefully before the supervisor force-terminates it.
type StopPayload struct {
	GraceMillis int64
}

// ExecuteInvokePayload asks a task worker to run one task.
type ExecuteInvokePayload struct {
	CorrelationID string
	TaskName      string
	Args          any
}

// ExecuteResultPayload carries the outcome of an ExecuteInvoke.
type ExecuteResultPayload struct {
	CorrelationID string
	Value         any
	ErrorKind     string
	ErrorText     string
}

// Message is one framed unit on the wire.
type Message struct {
	Kind    Kind
	Payload any
}

func init() {
	gob.Register(ReadyPayload{})
	gob.Register(StartPayload{})
	gob.Register(StopPayload{})
	gob.Register(ExecuteInvokePayload{})
	gob.Register(ExecuteResultPayload{})
}

// WriteMessage gob-encodes msg and writes it to w as a 4-byte big-endian
// length prefix followed by the encoded bytes.
func WriteMessage(w io.Writer, msg Message) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return fmt.Errorf("wire: encoding message: %w", err)
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("wire: writing length prefix: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("wire: writing payload: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed, gob-encoded Message from r.
func ReadMessage(r io.Reader) (Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Message{}, err
	}
	length := binary.BigEndian.Uint32(lenPrefix[:])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("wire: reading payload: %w", err)
	}
	var msg Message
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("wire: decoding message: %w", err)
	}
	return msg, nil
}
