package process

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// childMessage is the fixed-size record written by the launcher on the
// child error channel. Code is an errno value; it is zero for the readiness
// record.
type childMessage struct {
	Stage Stage
	Code  int32
}

const childMessageSize = 8

func (m childMessage) encode() [childMessageSize]byte {
	var buf [childMessageSize]byte
	binary.NativeEndian.PutUint32(buf[0:4], uint32(m.Stage))
	binary.NativeEndian.PutUint32(buf[4:8], uint32(m.Code))
	return buf
}

// readChildMessage reads one record. It returns io.EOF only when the channel
// was closed on a record boundary.
func readChildMessage(r io.Reader) (childMessage, error) {
	var buf [childMessageSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return childMessage{}, err
	}
	return childMessage{
		Stage: Stage(binary.NativeEndian.Uint32(buf[0:4])),
		Code:  int32(binary.NativeEndian.Uint32(buf[4:8])),
	}, nil
}

func writeChildMessage(w io.Writer, m childMessage) error {
	buf := m.encode()
	_, err := w.Write(buf[:])
	return err
}

// errnoOf extracts the errno carried by err, falling back to EINVAL so the
// parent always gets a non-zero code.
func errnoOf(err error) int32 {
	var errno unix.Errno
	if errors.As(err, &errno) && errno != 0 {
		return int32(errno)
	}
	return int32(unix.EINVAL)
}

// launchRequest is what the parent hands to the launcher on the request
// channel. Env holds only the overrides, in KEY=VALUE form.
type launchRequest struct {
	Args    []string `json:"args"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`
	SetPgid bool     `json:"setpgid,omitempty"`
	Pgid    int      `json:"pgid,omitempty"`
}

func (r *launchRequest) writeTo(w io.Writer) error {
	if err := json.NewEncoder(w).Encode(r); err != nil {
		return fmt.Errorf("encode launch request: %w", err)
	}
	return nil
}

func readLaunchRequest(rd io.Reader) (*launchRequest, error) {
	var req launchRequest
	if err := json.NewDecoder(rd).Decode(&req); err != nil {
		return nil, fmt.Errorf("decode launch request: %w", err)
	}
	if len(req.Args) == 0 {
		return nil, ErrNoArguments
	}
	return &req, nil
}
