package workerprotocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Protocol selects the framing used on the worker's standard streams.
type Protocol string

const (
	// Proto frames are varint length-delimited binary protobuf messages.
	Proto Protocol = "proto"
	// JSON frames are a stream of proto3 JSON objects.
	JSON Protocol = "json"
)

// ParseProtocol converts a flag value into a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(s) {
	case Proto, "":
		return Proto, nil
	case JSON:
		return JSON, nil
	default:
		return "", fmt.Errorf("unknown worker protocol %q (must be proto or json)", s)
	}
}

// ErrMalformedFrame is returned when a frame cannot be decoded. The stream
// cannot be trusted after this error.
var ErrMalformedFrame = errors.New("malformed frame")

// Decoder reads frames from a stream.
// It is not safe for concurrent use.
type Decoder struct {
	protocol Protocol
	br       *bufio.Reader
	jd       *json.Decoder
}

// NewDecoder returns a Decoder reading frames of the given protocol from r.
func NewDecoder(p Protocol, r io.Reader) *Decoder {
	d := &Decoder{protocol: p}
	if p == JSON {
		d.jd = json.NewDecoder(r)
	} else {
		d.br = bufio.NewReader(r)
	}
	return d
}

// ReadRequest reads the next work request. It returns io.EOF, and only io.EOF,
// when the stream ended cleanly between frames.
func (d *Decoder) ReadRequest() (*WorkRequest, error) {
	msg, err := d.readMessage(workRequestDesc)
	if err != nil {
		return nil, err
	}
	return requestFromMessage(msg), nil
}

// ReadResponse reads the next work response. It returns io.EOF when the
// stream ended cleanly between frames.
func (d *Decoder) ReadResponse() (*WorkResponse, error) {
	msg, err := d.readMessage(workResponseDesc)
	if err != nil {
		return nil, err
	}
	return &WorkResponse{
		ExitCode:     int32(msg.Get(responseExitCode).Int()),
		Output:       msg.Get(responseOutput).String(),
		RequestId:    int32(msg.Get(responseRequestID).Int()),
		WasCancelled: msg.Get(responseWasCancelled).Bool(),
	}, nil
}

func (d *Decoder) readMessage(desc protoreflect.MessageDescriptor) (*dynamicpb.Message, error) {
	msg := dynamicpb.NewMessage(desc)
	if d.protocol == JSON {
		var raw json.RawMessage
		if err := d.jd.Decode(&raw); err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(raw, msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return msg, nil
	}

	// A negative MaxSize lifts protodelim's default 4MiB frame limit; requests
	// for large compilations routinely exceed it.
	if err := (protodelim.UnmarshalOptions{MaxSize: -1}).UnmarshalFrom(d.br, msg); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return msg, nil
}

// Encoder writes frames to a stream. Every frame is flushed before the write
// call returns. It is not safe for concurrent use; callers serialize writes.
type Encoder struct {
	protocol Protocol
	bw       *bufio.Writer
}

// NewEncoder returns an Encoder writing frames of the given protocol to w.
func NewEncoder(p Protocol, w io.Writer) *Encoder {
	return &Encoder{protocol: p, bw: bufio.NewWriter(w)}
}

// WriteResponse writes and flushes a single response frame.
func (e *Encoder) WriteResponse(resp WorkResponse) error {
	msg := dynamicpb.NewMessage(workResponseDesc)
	msg.Set(responseExitCode, protoreflect.ValueOfInt32(resp.ExitCode))
	msg.Set(responseOutput, protoreflect.ValueOfString(resp.Output))
	msg.Set(responseRequestID, protoreflect.ValueOfInt32(resp.RequestId))
	msg.Set(responseWasCancelled, protoreflect.ValueOfBool(resp.WasCancelled))
	return e.writeMessage(msg)
}

// WriteRequest writes and flushes a single request frame.
func (e *Encoder) WriteRequest(req WorkRequest) error {
	return e.writeMessage(requestToMessage(req))
}

func (e *Encoder) writeMessage(msg *dynamicpb.Message) error {
	if e.protocol == JSON {
		b, err := protojson.MarshalOptions{EmitUnpopulated: true}.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encoding json frame: %w", err)
		}
		if _, err := e.bw.Write(b); err != nil {
			return err
		}
		if err := e.bw.WriteByte('\n'); err != nil {
			return err
		}
	} else if _, err := protodelim.MarshalTo(e.bw, msg); err != nil {
		return fmt.Errorf("encoding proto frame: %w", err)
	}
	return e.bw.Flush()
}

func requestFromMessage(msg *dynamicpb.Message) *WorkRequest {
	req := &WorkRequest{
		RequestId:  int32(msg.Get(requestID).Int()),
		Cancel:     msg.Get(requestCancel).Bool(),
		Verbosity:  int32(msg.Get(requestVerbosity).Int()),
		SandboxDir: msg.Get(requestSandboxDir).String(),
	}

	args := msg.Get(requestArguments).List()
	req.Arguments = make([]string, 0, args.Len())
	for i := 0; i < args.Len(); i++ {
		req.Arguments = append(req.Arguments, args.Get(i).String())
	}

	inputs := msg.Get(requestInputs).List()
	for i := 0; i < inputs.Len(); i++ {
		in := inputs.Get(i).Message()
		req.Inputs = append(req.Inputs, Input{
			Path:   in.Get(inputPath).String(),
			Digest: in.Get(inputDigest).Bytes(),
		})
	}
	return req
}

func requestToMessage(req WorkRequest) *dynamicpb.Message {
	msg := dynamicpb.NewMessage(workRequestDesc)

	args := msg.Mutable(requestArguments).List()
	for _, arg := range req.Arguments {
		args.Append(protoreflect.ValueOfString(arg))
	}

	inputs := msg.Mutable(requestInputs).List()
	for _, in := range req.Inputs {
		entry := inputs.NewElement()
		entry.Message().Set(inputPath, protoreflect.ValueOfString(in.Path))
		entry.Message().Set(inputDigest, protoreflect.ValueOfBytes(in.Digest))
		inputs.Append(entry)
	}

	msg.Set(requestID, protoreflect.ValueOfInt32(req.RequestId))
	msg.Set(requestCancel, protoreflect.ValueOfBool(req.Cancel))
	msg.Set(requestVerbosity, protoreflect.ValueOfInt32(req.Verbosity))
	msg.Set(requestSandboxDir, protoreflect.ValueOfString(req.SandboxDir))
	return msg
}
