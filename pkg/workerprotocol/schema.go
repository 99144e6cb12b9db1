package workerprotocol

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// The blaze.worker schema from Bazel's worker_protocol.proto. It is declared here
// as a descriptor so requests and responses can be handled as dynamic messages
// without generated code.
var (
	inputDesc        protoreflect.MessageDescriptor
	workRequestDesc  protoreflect.MessageDescriptor
	workResponseDesc protoreflect.MessageDescriptor
)

// Field descriptors, resolved once.
var (
	inputPath   protoreflect.FieldDescriptor
	inputDigest protoreflect.FieldDescriptor

	requestArguments  protoreflect.FieldDescriptor
	requestInputs     protoreflect.FieldDescriptor
	requestID         protoreflect.FieldDescriptor
	requestCancel     protoreflect.FieldDescriptor
	requestVerbosity  protoreflect.FieldDescriptor
	requestSandboxDir protoreflect.FieldDescriptor

	responseExitCode     protoreflect.FieldDescriptor
	responseOutput       protoreflect.FieldDescriptor
	responseRequestID    protoreflect.FieldDescriptor
	responseWasCancelled protoreflect.FieldDescriptor
)

func init() {
	file, err := protodesc.NewFile(workerProtocolFile(), new(protoregistry.Files))
	if err != nil {
		panic(fmt.Sprintf("workerprotocol: invalid worker protocol schema: %v", err))
	}
	messages := file.Messages()
	inputDesc = messages.ByName("Input")
	workRequestDesc = messages.ByName("WorkRequest")
	workResponseDesc = messages.ByName("WorkResponse")

	inputPath = inputDesc.Fields().ByName("path")
	inputDigest = inputDesc.Fields().ByName("digest")

	requestFields := workRequestDesc.Fields()
	requestArguments = requestFields.ByName("arguments")
	requestInputs = requestFields.ByName("inputs")
	requestID = requestFields.ByName("request_id")
	requestCancel = requestFields.ByName("cancel")
	requestVerbosity = requestFields.ByName("verbosity")
	requestSandboxDir = requestFields.ByName("sandbox_dir")

	responseFields := workResponseDesc.Fields()
	responseExitCode = responseFields.ByName("exit_code")
	responseOutput = responseFields.ByName("output")
	responseRequestID = responseFields.ByName("request_id")
	responseWasCancelled = responseFields.ByName("was_cancelled")
}

func workerProtocolFile() *descriptorpb.FileDescriptorProto {
	const (
		optional = descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
		repeated = descriptorpb.FieldDescriptorProto_LABEL_REPEATED

		tString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
		tBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
		tInt32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
		tBool    = descriptorpb.FieldDescriptorProto_TYPE_BOOL
		tMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
	)

	inputs := field("inputs", "inputs", 2, repeated, tMessage)
	inputs.TypeName = proto.String(".blaze.worker.Input")

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("src/main/protobuf/worker_protocol.proto"),
		Package: proto.String("blaze.worker"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Input"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("path", "path", 1, optional, tString),
					field("digest", "digest", 2, optional, tBytes),
				},
			},
			{
				Name: proto.String("WorkRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("arguments", "arguments", 1, repeated, tString),
					inputs,
					field("request_id", "requestId", 3, optional, tInt32),
					field("cancel", "cancel", 4, optional, tBool),
					field("verbosity", "verbosity", 5, optional, tInt32),
					field("sandbox_dir", "sandboxDir", 6, optional, tString),
				},
			},
			{
				Name: proto.String("WorkResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("exit_code", "exitCode", 1, optional, tInt32),
					field("output", "output", 2, optional, tString),
					field("request_id", "requestId", 3, optional, tInt32),
					field("was_cancelled", "wasCancelled", 4, optional, tBool),
				},
			},
		},
	}
}

func field(
	name string,
	jsonName string,
	number int32,
	label descriptorpb.FieldDescriptorProto_Label,
	typ descriptorpb.FieldDescriptorProto_Type,
) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		JsonName: proto.String(jsonName),
		Number:   proto.Int32(number),
		Label:    label.Enum(),
		Type:     typ.Enum(),
	}
}
