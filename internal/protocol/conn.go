package protocol

import (
	"fmt"
	"io"

	"github.com/roach88/lockprobe/internal/codec"
)

// Conn frames protocol messages over a byte stream.
//
// Conn does no locking. Callers serialize use of a Conn so that at most one
// Command is outstanding at a time.
type Conn struct {
	w   io.Writer
	dec *codec.Decoder
}

// NewConn wraps rw. The decoder buffers reads, so all reads of rw must go
// through the returned Conn from then on.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{w: rw, dec: codec.NewDecoder(rw)}
}

// write encodes v and writes it with a single Write call, so a frame is
// either delivered whole or reported as failed.
func (c *Conn) write(v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	n, err := c.w.Write(data)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("write frame: %w", io.ErrShortWrite)
	}
	return nil
}

// read decodes one frame into v. A clean end-of-stream before any byte of
// the frame returns io.EOF unwrapped, which the agent treats as shutdown.
func (c *Conn) read(v any) error {
	if err := c.dec.Decode(v); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("read frame: %w", err)
	}
	return nil
}

// WriteReady sends the readiness frame.
func (c *Conn) WriteReady(r Ready) error {
	return c.write(r)
}

// ReadReady reads and validates the readiness frame.
func (c *Conn) ReadReady() (Ready, error) {
	var r Ready
	if err := c.read(&r); err != nil {
		return Ready{}, err
	}
	if err := r.Validate(); err != nil {
		return Ready{}, err
	}
	return r, nil
}

// WriteCommand sends a command.
func (c *Conn) WriteCommand(cmd Command) error {
	return c.write(cmd)
}

// ReadCommand reads one command. The returned command has been decoded but
// not validated; the agent answers an invalid command with a fault instead
// of dropping the channel.
func (c *Conn) ReadCommand() (Command, error) {
	var cmd Command
	if err := c.read(&cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// WriteResponse sends a response.
func (c *Conn) WriteResponse(r Response) error {
	return c.write(r)
}

// ReadResponse reads and validates one response.
func (c *Conn) ReadResponse() (Response, error) {
	var r Response
	if err := c.read(&r); err != nil {
		return Response{}, err
	}
	if err := r.Validate(); err != nil {
		return Response{}, err
	}
	return r, nil
}

// Exchange sends cmd and blocks for its response.
func (c *Conn) Exchange(cmd Command) (Response, error) {
	if err := c.WriteCommand(cmd); err != nil {
		return Response{}, err
	}
	resp, err := c.ReadResponse()
	if err == io.EOF {
		return Response{}, fmt.Errorf("read response: %w", io.ErrUnexpectedEOF)
	}
	return resp, err
}
