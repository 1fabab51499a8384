// The config file schema is declared here instead of in a .proto file: each section becomes a nested message
// of `skipkv.Config` and each field is named after the command line flag it sets. The descriptor is built once,
// at first use, with protodesc so config files can be parsed as regular protobuf text format.

package config

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

const configPackage = "skipkv"

// configField is a single flag that can be set from the config file.
type configField struct {
	flagName  string
	fieldType descriptorpb.FieldDescriptorProto_Type
}

// configSection groups related flags in a nested message.
type configSection struct {
	name   string
	fields []configField
}

var configSections = []configSection{
	{name: "logging", fields: []configField{
		{flagName: "log_handler_type", fieldType: descriptorpb.FieldDescriptorProto_TYPE_STRING},
		{flagName: "log_level", fieldType: descriptorpb.FieldDescriptorProto_TYPE_STRING},
	}},
	{name: "storage", fields: []configField{
		{flagName: "dump_file", fieldType: descriptorpb.FieldDescriptorProto_TYPE_STRING},
		// Durations are written the way flag.Duration parses them, e.g. "50ms".
		{flagName: "dump_lock_retry_delay", fieldType: descriptorpb.FieldDescriptorProto_TYPE_STRING},
	}},
	{name: "server", fields: []configField{
		{flagName: "mode", fieldType: descriptorpb.FieldDescriptorProto_TYPE_STRING},
		{flagName: "address", fieldType: descriptorpb.FieldDescriptorProto_TYPE_STRING},
		{flagName: "shard_count", fieldType: descriptorpb.FieldDescriptorProto_TYPE_INT64},
		{flagName: "bloom_expected_keys", fieldType: descriptorpb.FieldDescriptorProto_TYPE_INT64},
		{flagName: "bloom_false_positive_rate", fieldType: descriptorpb.FieldDescriptorProto_TYPE_DOUBLE},
		{flagName: "save_on_shutdown", fieldType: descriptorpb.FieldDescriptorProto_TYPE_BOOL},
	}},
}

// buildConfigFile turns `sections` into a file descriptor holding the `Config` message.
func buildConfigFile(sections []configSection) (protoreflect.FileDescriptor, error) {
	root := &descriptorpb.DescriptorProto{Name: proto.String("Config")}
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String(configPackage + "/config.proto"),
		Package: proto.String(configPackage),
		// proto2 gives every optional scalar explicit presence, so fields left out of the config file don't
		// override flag defaults.
		Syntax: proto.String("proto2"),
	}
	for sectionIdx, section := range sections {
		message := &descriptorpb.DescriptorProto{Name: proto.String(fmt.Sprintf("Config_%s", section.name))}
		for fieldIdx, field := range section.fields {
			message.Field = append(message.Field, &descriptorpb.FieldDescriptorProto{
				Name:   proto.String(field.flagName),
				Number: proto.Int32(int32(fieldIdx + 1)),
				Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
				Type:   field.fieldType.Enum(),
			})
		}
		file.MessageType = append(file.MessageType, message)
		root.Field = append(root.Field, &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(section.name),
			Number:   proto.Int32(int32(sectionIdx + 1)),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
			TypeName: proto.String(fmt.Sprintf(".%s.%s", configPackage, message.GetName())),
		})
	}
	file.MessageType = append(file.MessageType, root)
	return protodesc.NewFile(file, new(protoregistry.Files))
}

// configDescriptor returns the descriptor of the `Config` message.
var configDescriptor = sync.OnceValues(func() (protoreflect.MessageDescriptor, error) {
	file, err := buildConfigFile(configSections)
	if err != nil {
		return nil, fmt.Errorf("failed to build config schema: %w", err)
	}
	return file.Messages().ByName("Config"), nil
})
