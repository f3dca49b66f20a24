package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"
	"go.lsp.dev/jsonrpc2"
)

// MaxFrameSize bounds the payload of a single frame.
const MaxFrameSize = 1 << 20

// Messages travel as JSON-RPC 2.0 envelopes framed by a Content-Length
// header. A request is a call whose method is the operation and whose
// params are the Request; a reply is a response carrying the Response as
// its result under the call's ID.

// Encoder writes framed messages. Each Encode flushes its frame.
type Encoder struct {
	w      *bufio.Writer
	stream jsonrpc2.Stream
	seq    int32
}

func NewEncoder(w io.Writer) *Encoder {
	bw := bufio.NewWriter(w)
	return &Encoder{w: bw, stream: jsonrpc2.NewStream(sendOnly{bw})}
}

// sendOnly adapts the write side of a connection to a jsonrpc2 stream.
type sendOnly struct{ io.Writer }

func (sendOnly) Read([]byte) (int, error) { return 0, errors.New("read on send-only stream") }
func (sendOnly) Close() error             { return nil }

// EncodeRequest writes req as a call and returns the ID its reply must carry.
func (e *Encoder) EncodeRequest(req *Request) (jsonrpc2.ID, error) {
	e.seq++
	if e.seq <= 0 {
		e.seq = 1
	}
	id := jsonrpc2.NewNumberID(e.seq)
	call, err := jsonrpc2.NewCall(id, string(req.Op), req)
	if err != nil {
		return id, fmt.Errorf("encode request: %w", err)
	}
	return id, e.write(call)
}

// EncodeResponse writes resp as the reply to the call with the given ID.
func (e *Encoder) EncodeResponse(id jsonrpc2.ID, resp *Response) error {
	msg, err := jsonrpc2.NewResponse(id, resp, nil)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return e.write(msg)
}

func (e *Encoder) write(msg jsonrpc2.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("encode message: %d bytes exceeds frame limit", len(data))
	}
	if _, err := e.stream.Write(context.Background(), msg); err != nil {
		return err
	}
	return e.w.Flush()
}

// ProtocolError reports a frame that was read completely but whose payload
// could not be understood. The stream remains usable after a ProtocolError.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsProtocolError reports whether err is or wraps a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// maxHeaderLine bounds one header line of a frame.
const maxHeaderLine = 4096

// Decoder reads framed messages.
//
// It parses the Content-Length framing itself rather than through
// jsonrpc2.Stream.Read so that MaxFrameSize is checked before the payload
// is buffered.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, maxHeaderLine)}
}

// frame reads the next payload. It returns io.EOF only on a clean frame
// boundary; a stream cut inside a frame yields io.ErrUnexpectedEOF.
// Malformed headers are not protocol errors: after one the stream can no
// longer be trusted to be aligned on a frame.
func (d *Decoder) frame() ([]byte, error) {
	n := int64(-1)
	for first := true; ; first = false {
		line, err := d.r.ReadSlice('\n')
		switch {
		case err == io.EOF && first && len(line) == 0:
			return nil, io.EOF
		case err == bufio.ErrBufferFull:
			return nil, errors.New("frame header line too long")
		case err != nil:
			return nil, noEOF(err)
		}
		l := strings.TrimSpace(string(line))
		if l == "" {
			break
		}
		name, value, ok := strings.Cut(l, ":")
		if !ok {
			return nil, fmt.Errorf("invalid frame header %q", l)
		}
		if strings.TrimSpace(name) != jsonrpc2.HdrContentLength {
			continue
		}
		n, err = strconv.ParseInt(strings.TrimSpace(value), 10, 32)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid %s %q", jsonrpc2.HdrContentLength, value)
		}
	}
	if n < 0 {
		return nil, fmt.Errorf("missing %s header", jsonrpc2.HdrContentLength)
	}
	if n > MaxFrameSize {
		if _, err := io.CopyN(io.Discard, d.r, n); err != nil {
			return nil, noEOF(err)
		}
		return nil, &ProtocolError{Reason: fmt.Sprintf("frame of %d bytes exceeds limit %d", n, MaxFrameSize)}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, noEOF(err)
	}
	return buf, nil
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (d *Decoder) message() (jsonrpc2.Message, error) {
	data, err := d.frame()
	if err != nil {
		return nil, err
	}
	msg, err := jsonrpc2.DecodeMessage(data)
	if err != nil {
		return nil, &ProtocolError{Reason: "malformed message", Err: err}
	}
	return msg, nil
}

// DecodeRequest reads the next request and the ID to reply under. The ID
// is also returned with a ProtocolError when the call itself was readable.
func (d *Decoder) DecodeRequest() (*Request, jsonrpc2.ID, error) {
	var id jsonrpc2.ID
	msg, err := d.message()
	if err != nil {
		return nil, id, err
	}
	call, ok := msg.(*jsonrpc2.Call)
	if !ok {
		return nil, id, &ProtocolError{Reason: fmt.Sprintf("expected a call, got %T", msg)}
	}
	id = call.ID()
	req := &Request{}
	if p := call.Params(); len(p) > 0 {
		if err := json.Unmarshal(p, req); err != nil {
			return nil, id, &ProtocolError{Reason: "malformed request", Err: err}
		}
	}
	req.Op = Op(call.Method())
	if !req.Op.Valid() {
		return nil, id, &ProtocolError{Reason: fmt.Sprintf("unknown operation %q", req.Op)}
	}
	return req, id, nil
}

// DecodeResponse reads the next response and the ID of the call it answers.
func (d *Decoder) DecodeResponse() (*Response, jsonrpc2.ID, error) {
	var id jsonrpc2.ID
	msg, err := d.message()
	if err != nil {
		return nil, id, err
	}
	reply, ok := msg.(*jsonrpc2.Response)
	if !ok {
		return nil, id, &ProtocolError{Reason: fmt.Sprintf("expected a response, got %T", msg)}
	}
	id = reply.ID()
	if err := reply.Err(); err != nil {
		return nil, id, &ProtocolError{Reason: "error reply", Err: err}
	}
	resp := &Response{}
	if err := json.Unmarshal(reply.Result(), resp); err != nil {
		return nil, id, &ProtocolError{Reason: "malformed response", Err: err}
	}
	if err := resp.validate(); err != nil {
		return nil, id, &ProtocolError{Reason: "invalid response", Err: err}
	}
	return resp, id, nil
}
