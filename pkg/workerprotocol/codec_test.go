package workerprotocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestDecoder_ProtoWireCompatibility(t *testing.T) {
	// Build a frame by hand so the field numbers are checked against Bazel's
	// worker_protocol.proto rather than against our own encoder.
	var input []byte
	input = protowire.AppendTag(input, 1, protowire.BytesType)
	input = protowire.AppendString(input, "src/Main.kt")
	input = protowire.AppendTag(input, 2, protowire.BytesType)
	input = protowire.AppendBytes(input, []byte("abcd"))

	var body []byte
	body = protowire.AppendTag(body, 1, protowire.BytesType)
	body = protowire.AppendString(body, "--mammal")
	body = protowire.AppendTag(body, 1, protowire.BytesType)
	body = protowire.AppendString(body, "bunny")
	body = protowire.AppendTag(body, 2, protowire.BytesType)
	body = protowire.AppendBytes(body, input)
	body = protowire.AppendTag(body, 3, protowire.VarintType)
	body = protowire.AppendVarint(body, 42)
	body = protowire.AppendTag(body, 5, protowire.VarintType)
	body = protowire.AppendVarint(body, 10)
	body = protowire.AppendTag(body, 6, protowire.BytesType)
	body = protowire.AppendString(body, "sandbox/7")

	frame := protowire.AppendVarint(nil, uint64(len(body)))
	frame = append(frame, body...)

	dec := NewDecoder(Proto, bytes.NewReader(frame))
	req, err := dec.ReadRequest()
	if err != nil {
		t.Fatalf("Failed to read request: %v", err)
	}

	if req.RequestId != 42 {
		t.Errorf("Expected request id 42, got %d", req.RequestId)
	}
	if strings.Join(req.Arguments, " ") != "--mammal bunny" {
		t.Errorf("Unexpected arguments: %q", req.Arguments)
	}
	if req.Verbosity != 10 {
		t.Errorf("Expected verbosity 10, got %d", req.Verbosity)
	}
	if req.SandboxDir != "sandbox/7" {
		t.Errorf("Expected sandbox dir sandbox/7, got %q", req.SandboxDir)
	}
	if len(req.Inputs) != 1 || req.Inputs[0].Path != "src/Main.kt" || string(req.Inputs[0].Digest) != "abcd" {
		t.Errorf("Unexpected inputs: %+v", req.Inputs)
	}

	if _, err := dec.ReadRequest(); err != io.EOF {
		t.Errorf("Expected io.EOF after last frame, got %v", err)
	}
}

func TestEncoder_ProtoResponseFields(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(Proto, &buf)
	if err := enc.WriteResponse(WorkResponse{RequestId: 7, ExitCode: 1, Output: "sidhe disciplined"}); err != nil {
		t.Fatalf("Failed to write response: %v", err)
	}

	data := buf.Bytes()
	size, n := protowire.ConsumeVarint(data)
	if n < 0 {
		t.Fatalf("Failed to read size prefix: %v", protowire.ParseError(n))
	}
	body := data[n:]
	if uint64(len(body)) != size {
		t.Fatalf("Size prefix %d does not match body length %d", size, len(body))
	}

	got := map[protowire.Number]any{}
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			t.Fatalf("Failed to parse tag: %v", protowire.ParseError(n))
		}
		body = body[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			got[num] = v
			body = body[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeString(body)
			got[num] = v
			body = body[n:]
		default:
			t.Fatalf("Unexpected wire type %v for field %d", typ, num)
		}
	}

	if got[1] != uint64(1) {
		t.Errorf("Expected exit_code (1) = 1, got %v", got[1])
	}
	if got[2] != "sidhe disciplined" {
		t.Errorf("Expected output (2) = %q, got %v", "sidhe disciplined", got[2])
	}
	if got[3] != uint64(7) {
		t.Errorf("Expected request_id (3) = 7, got %v", got[3])
	}
}

func TestDecoder_TruncatedFrames(t *testing.T) {
	var buf bytes.Buffer
	if err := NewEncoder(Proto, &buf).WriteRequest(WorkRequest{RequestId: 1, Arguments: []string{"foo"}}); err != nil {
		t.Fatalf("Failed to write request: %v", err)
	}
	full := buf.Bytes()

	tests := []struct {
		name string
		data []byte
	}{
		{name: "body cut short", data: full[:len(full)-2]},
		{name: "size prefix only", data: full[:1]},
		{name: "unterminated varint", data: []byte{0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(Proto, bytes.NewReader(tt.data)).ReadRequest()
			if err == nil || err == io.EOF {
				t.Fatalf("Expected a protocol error, got %v", err)
			}
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("Expected ErrMalformedFrame, got %v", err)
			}
		})
	}
}

func TestDecoder_EmptyStream(t *testing.T) {
	for _, p := range []Protocol{Proto, JSON} {
		t.Run(string(p), func(t *testing.T) {
			if _, err := NewDecoder(p, strings.NewReader("")).ReadRequest(); err != io.EOF {
				t.Errorf("Expected io.EOF, got %v", err)
			}
		})
	}
}

func TestDecoder_JSONStream(t *testing.T) {
	// Bazel's JSON worker protocol uses proto3 JSON names and base64 bytes.
	stream := `{"arguments":["--mammal","squirrel"],"requestId":2,"inputs":[{"path":"a.txt","digest":"YWJj"}]}
{
  "arguments": [],
  "requestId": 3,
  "cancel": true,
  "unknownField": "ignored"
}`
	dec := NewDecoder(JSON, strings.NewReader(stream))

	first, err := dec.ReadRequest()
	if err != nil {
		t.Fatalf("Failed to read first request: %v", err)
	}
	if first.RequestId != 2 || strings.Join(first.Arguments, " ") != "--mammal squirrel" {
		t.Errorf("Unexpected first request: %+v", first)
	}
	if len(first.Inputs) != 1 || string(first.Inputs[0].Digest) != "abc" {
		t.Errorf("Unexpected inputs: %+v", first.Inputs)
	}

	second, err := dec.ReadRequest()
	if err != nil {
		t.Fatalf("Failed to read second request: %v", err)
	}
	if !second.Cancel || second.RequestId != 3 {
		t.Errorf("Expected cancel request 3, got %+v", second)
	}

	if _, err := dec.ReadRequest(); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestEncoder_JSONResponse(t *testing.T) {
	var buf bytes.Buffer
	if err := NewEncoder(JSON, &buf).WriteResponse(WorkResponse{RequestId: 5, Output: "ok"}); err != nil {
		t.Fatalf("Failed to write response: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"requestId":5`, `"exitCode":0`, `"output":"ok"`} {
		if !strings.Contains(strings.ReplaceAll(out, " ", ""), want) {
			t.Errorf("Expected %s in %s", want, out)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("Expected JSON frame to be newline terminated, got %q", out)
	}

	resp, err := NewDecoder(JSON, &buf).ReadResponse()
	if err != nil {
		t.Fatalf("Failed to read response back: %v", err)
	}
	if resp.RequestId != 5 || resp.Output != "ok" {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestDecoder_MalformedJSON(t *testing.T) {
	_, err := NewDecoder(JSON, strings.NewReader(`{"requestId": "not a number"}`)).ReadRequest()
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Expected ErrMalformedFrame, got %v", err)
	}
}

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		in      string
		want    Protocol
		wantErr bool
	}{
		{in: "", want: Proto},
		{in: "proto", want: Proto},
		{in: "json", want: JSON},
		{in: "xml", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseProtocol(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseProtocol(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseProtocol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
