package process

import (
	"fmt"
	"os"
	"path/filepath"
)

// Stream selects one of the child's output streams.
type Stream int

const (
	// Stdout is the child's standard output.
	Stdout Stream = 1
	// Stderr is the child's standard error.
	Stderr Stream = 2
)

// String returns the stream name.
func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return fmt.Sprintf("stream(%d)", int(s))
	}
}

// TargetKind tells where a stream is connected.
type TargetKind int

const (
	// TargetInherit leaves the stream connected to the parent's own stream.
	TargetInherit TargetKind = iota
	// TargetPath opens (create/truncate) a file at start time.
	TargetPath
	// TargetFile hands a caller-supplied descriptor to the child.
	TargetFile
)

// Redirection describes the target of one stream.
type Redirection struct {
	Kind  TargetKind
	Path  string
	File  *os.File
	Owned bool
}

// redirection owns the target of one stream. An owned descriptor is closed
// exactly once, either when the target is replaced, after the spawn that
// consumed it, or on release.
type redirection struct {
	path  string
	file  *os.File
	owned bool
}

func (r *redirection) kind() TargetKind {
	switch {
	case r.file != nil:
		return TargetFile
	case r.path != "":
		return TargetPath
	default:
		return TargetInherit
	}
}

func (r *redirection) view() Redirection {
	return Redirection{Kind: r.kind(), Path: r.path, File: r.file, Owned: r.owned}
}

func (r *redirection) set(path string, f *os.File, owned bool) error {
	err := r.release()
	r.path = path
	r.file = f
	r.owned = owned && f != nil
	return err
}

// release drops the target and closes the descriptor if it is owned.
func (r *redirection) release() error {
	var err error
	if r.owned && r.file != nil {
		err = r.file.Close()
	}
	r.path = ""
	r.file = nil
	r.owned = false
	return err
}

// spawnFiles holds the descriptors resolved for one spawn. Everything in
// parentOnly exists solely to feed the child and is closed by the parent
// right after the spawn.
type spawnFiles struct {
	stdout     *os.File
	stderr     *os.File
	parentOnly []*os.File
}

func (sf *spawnFiles) closeParentSide() {
	for _, f := range sf.parentOnly {
		_ = f.Close()
	}
	sf.parentOnly = nil
}

// resolve opens the descriptor the child gets for this stream. Path targets
// are opened fresh on every start. parentOnly reports whether the parent
// must close the descriptor after the spawn.
func (r *redirection) resolve(stream Stream, std *os.File) (f *os.File, parentOnly bool, err error) {
	switch r.kind() {
	case TargetPath:
		file, openErr := os.OpenFile(r.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
		if openErr != nil {
			return nil, false, &ResourceError{Op: "open " + stream.String() + " redirection", Err: openErr}
		}
		return file, true, nil
	case TargetFile:
		return r.file, r.owned, nil
	default:
		return std, false, nil
	}
}

// consume hands an owned descriptor over to the spawn: the parent side
// closes it once the child holds its copy, and the stream goes back to
// inherited.
func (r *redirection) consume() {
	if r.kind() == TargetFile && r.owned {
		r.file = nil
		r.owned = false
	}
}

// redirections is the per-process redirection manager.
type redirections struct {
	stdout redirection
	stderr redirection
}

func (rs *redirections) get(stream Stream) *redirection {
	if stream == Stderr {
		return &rs.stderr
	}
	return &rs.stdout
}

// prepare resolves both streams before spawning. On error nothing opened
// here stays open and no owned descriptor is consumed.
func (rs *redirections) prepare() (*spawnFiles, error) {
	sf := &spawnFiles{}

	out, outParent, err := rs.stdout.resolve(Stdout, os.Stdout)
	if err != nil {
		return nil, err
	}
	if rs.samePath() {
		// One description, one offset: the streams interleave instead of
		// overwriting each other.
		sf.stdout, sf.stderr = out, out
		sf.parentOnly = append(sf.parentOnly, out)
		return sf, nil
	}
	errf, errParent, err := rs.stderr.resolve(Stderr, os.Stderr)
	if err != nil {
		if outParent && rs.stdout.kind() == TargetPath {
			_ = out.Close()
		}
		return nil, err
	}

	sf.stdout, sf.stderr = out, errf
	if outParent {
		sf.parentOnly = append(sf.parentOnly, out)
	}
	if errParent && errf != out {
		sf.parentOnly = append(sf.parentOnly, errf)
	}
	rs.stdout.consume()
	rs.stderr.consume()
	return sf, nil
}

// samePath reports whether both streams go to the same file path.
func (rs *redirections) samePath() bool {
	return rs.stdout.kind() == TargetPath && rs.stderr.kind() == TargetPath &&
		filepath.Clean(rs.stdout.path) == filepath.Clean(rs.stderr.path)
}

func (rs *redirections) release() error {
	err := rs.stdout.release()
	if e := rs.stderr.release(); err == nil {
		err = e
	}
	return err
}
