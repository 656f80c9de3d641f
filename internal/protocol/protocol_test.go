package protocol

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lockprobe/internal/codec"
)

func TestNewTransaction_NormalizesPath(t *testing.T) {
	// "é" written as e + combining acute accent.
	decomposed := "cafe\u0301.db"
	cmd := NewTransaction(decomposed)

	assert.Equal(t, KindCommand, cmd.Kind)
	assert.Equal(t, OpTransaction, cmd.Op)
	assert.Equal(t, "caf\u00e9.db", cmd.Path)
	assert.NoError(t, cmd.Validate())
}

func TestCommandValidate(t *testing.T) {
	tests := []struct {
		name      string
		cmd       Command
		malformed bool
		wantErr   bool
	}{
		{"valid", NewTransaction("t.db"), false, false},
		{"wrong kind", Command{Kind: KindResponse, Op: OpTransaction, Path: "t.db"}, true, true},
		{"unknown op", Command{Kind: KindCommand, Op: "drop", Path: "t.db"}, false, true},
		{"empty path", Command{Kind: KindCommand, Op: OpTransaction}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.malformed, errors.Is(err, ErrMalformed))
		})
	}
}

func TestResponseValidate(t *testing.T) {
	assert.NoError(t, Outcome(true, "").Validate())
	assert.NoError(t, Outcome(false, "database is locked").Validate())
	assert.NoError(t, Fault("unknown op").Validate())

	yes := true
	bad := []Response{
		{Kind: KindResponse},
		{Kind: KindReady, Status: StatusOutcome, OK: &yes},
		{Kind: KindResponse, Status: StatusOutcome},
		{Kind: KindResponse, Status: StatusFault, OK: &yes},
		{Kind: KindResponse, Status: 9},
	}
	for _, r := range bad {
		assert.ErrorIs(t, r.Validate(), ErrMalformed, "response %+v", r)
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "outcome", StatusOutcome.String())
	assert.Equal(t, "fault", StatusFault.String())
	assert.Equal(t, "status(7)", Status(7).String())
}

func TestConn_Exchange(t *testing.T) {
	driverSide, agentSide := net.Pipe()
	defer driverSide.Close()
	defer agentSide.Close()

	driver := NewConn(driverSide)
	agent := NewConn(agentSide)

	done := make(chan error, 1)
	go func() {
		if err := agent.WriteReady(NewReady("session-1", 42, "sqlite3")); err != nil {
			done <- err
			return
		}
		cmd, err := agent.ReadCommand()
		if err != nil {
			done <- err
			return
		}
		if err := cmd.Validate(); err != nil {
			done <- err
			return
		}
		done <- agent.WriteResponse(Outcome(cmd.Path == "t.db", ""))
	}()

	ready, err := driver.ReadReady()
	require.NoError(t, err)
	assert.Equal(t, "session-1", ready.Session)
	assert.Equal(t, 42, ready.PID)

	resp, err := driver.Exchange(NewTransaction("t.db"))
	require.NoError(t, err)
	assert.Equal(t, StatusOutcome, resp.Status)
	assert.True(t, resp.Acquired())
	require.NoError(t, <-done)
}

func TestConn_ReadCommand_EOF(t *testing.T) {
	conn := NewConn(&readWriter{r: bytes.NewReader(nil)})
	_, err := conn.ReadCommand()
	assert.Equal(t, io.EOF, err)
}

func TestConn_Exchange_ClosedPeerIsUnexpectedEOF(t *testing.T) {
	conn := NewConn(&readWriter{r: bytes.NewReader(nil)})
	_, err := conn.Exchange(NewTransaction("t.db"))
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestConn_ReadResponse_WrongFrame(t *testing.T) {
	data, err := codec.Marshal(NewReady("s", 1, "sqlite3"))
	require.NoError(t, err)

	conn := NewConn(&readWriter{r: bytes.NewReader(data)})
	_, err = conn.ReadResponse()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestConn_ReadResponse_OutcomeWithoutOK(t *testing.T) {
	data, err := codec.Marshal(map[string]any{
		"kind":   KindResponse,
		"status": uint8(StatusOutcome),
	})
	require.NoError(t, err)

	conn := NewConn(&readWriter{r: bytes.NewReader(data)})
	_, err = conn.ReadResponse()
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "without ok")
}

func TestResponse_Acquired(t *testing.T) {
	assert.True(t, Outcome(true, "").Acquired())
	assert.False(t, Outcome(false, "busy").Acquired())
	assert.False(t, Fault("unknown op").Acquired())
}

func TestConn_ReadResponse_Truncated(t *testing.T) {
	data, err := codec.Marshal(Outcome(true, "a reason long enough to truncate"))
	require.NoError(t, err)

	conn := NewConn(&readWriter{r: bytes.NewReader(data[:len(data)/2])})
	_, err = conn.ReadResponse()
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestConn_ShortWrite(t *testing.T) {
	conn := NewConn(&readWriter{r: bytes.NewReader(nil), short: true})
	err := conn.WriteCommand(NewTransaction("t.db"))
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

type readWriter struct {
	r     io.Reader
	buf   bytes.Buffer
	short bool
}

func (rw *readWriter) Read(p []byte) (int, error) { return rw.r.Read(p) }

func (rw *readWriter) Write(p []byte) (int, error) {
	if rw.short && len(p) > 1 {
		return rw.buf.Write(p[:1])
	}
	return rw.buf.Write(p)
}
