package bsconfig

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// The subset of NKikimrBlobStorage.TConfigRequest the harness sends. Field
// names and numbers follow the controller's blobstorage_config.proto so the
// text form is accepted by `admin blobstorage config invoke`.
const protoPackage = "NKikimrBlobStorage"

var configRequestDescriptor = mustBuildSchema()

func optional(name string, number int32, kind descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   kind.Enum(),
	}
}

func typed(field *descriptorpb.FieldDescriptorProto, typeName string) *descriptorpb.FieldDescriptorProto {
	field.TypeName = proto.String("." + protoPackage + "." + typeName)
	return field
}

func repeated(field *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	field.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return field
}

func inOneof(field *descriptorpb.FieldDescriptorProto, index int32) *descriptorpb.FieldDescriptorProto {
	field.OneofIndex = proto.Int32(index)
	return field
}

const (
	typeString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	typeUint64  = descriptorpb.FieldDescriptorProto_TYPE_UINT64
	typeUint32  = descriptorpb.FieldDescriptorProto_TYPE_UINT32
	typeInt32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
	typeEnum    = descriptorpb.FieldDescriptorProto_TYPE_ENUM
	typeMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
)

func schemaFile() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("ydb/core/protos/blobstorage_config.proto"),
		Package: proto.String(protoPackage),
		Syntax:  proto.String("proto2"),
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name: proto.String("EPDiskType"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				{Name: proto.String("ROT"), Number: proto.Int32(0)},
				{Name: proto.String("SSD"), Number: proto.Int32(1)},
				{Name: proto.String("NVME"), Number: proto.Int32(2)},
			},
		}},
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("THostConfigDrive"),
				Field: []*descriptorpb.FieldDescriptorProto{
					optional("Path", 1, typeString),
					typed(optional("Type", 2, typeEnum), "EPDiskType"),
					optional("Kind", 5, typeUint64),
				},
			},
			{
				Name: proto.String("TDefineHostConfig"),
				Field: []*descriptorpb.FieldDescriptorProto{
					optional("HostConfigId", 1, typeUint64),
					repeated(typed(optional("Drive", 2, typeMessage), "THostConfigDrive")),
				},
			},
			{
				Name: proto.String("THostKey"),
				Field: []*descriptorpb.FieldDescriptorProto{
					optional("Fqdn", 1, typeString),
					optional("IcPort", 2, typeInt32),
				},
			},
			{
				Name: proto.String("TDefineBox"),
				Field: []*descriptorpb.FieldDescriptorProto{
					optional("BoxId", 1, typeUint64),
					repeated(typed(optional("Host", 3, typeMessage), "TDefineBox.THost")),
				},
				NestedType: []*descriptorpb.DescriptorProto{{
					Name: proto.String("THost"),
					Field: []*descriptorpb.FieldDescriptorProto{
						typed(optional("Key", 1, typeMessage), "THostKey"),
						optional("HostConfigId", 2, typeUint64),
					},
				}},
			},
			{
				Name: proto.String("TPDiskFilter"),
				Field: []*descriptorpb.FieldDescriptorProto{
					repeated(typed(optional("Property", 1, typeMessage), "TPDiskFilter.TRequiredProperty")),
				},
				NestedType: []*descriptorpb.DescriptorProto{{
					Name: proto.String("TRequiredProperty"),
					Field: []*descriptorpb.FieldDescriptorProto{
						inOneof(typed(optional("Type", 1, typeEnum), "EPDiskType"), 0),
						inOneof(optional("Kind", 4, typeUint64), 0),
					},
					OneofDecl: []*descriptorpb.OneofDescriptorProto{{Name: proto.String("Property")}},
				}},
			},
			{
				Name: proto.String("TDefineStoragePool"),
				Field: []*descriptorpb.FieldDescriptorProto{
					optional("BoxId", 1, typeUint64),
					optional("StoragePoolId", 2, typeUint64),
					optional("Name", 3, typeString),
					optional("ErasureSpecies", 4, typeString),
					optional("VDiskKind", 6, typeString),
					optional("Kind", 7, typeString),
					optional("NumGroups", 8, typeUint32),
					repeated(typed(optional("PDiskFilter", 9, typeMessage), "TPDiskFilter")),
				},
			},
			{
				Name: proto.String("TConfigRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					repeated(typed(optional("Command", 1, typeMessage), "TConfigRequest.TCommand")),
				},
				NestedType: []*descriptorpb.DescriptorProto{{
					Name: proto.String("TCommand"),
					Field: []*descriptorpb.FieldDescriptorProto{
						inOneof(typed(optional("DefineHostConfig", 1, typeMessage), "TDefineHostConfig"), 0),
						inOneof(typed(optional("DefineBox", 4, typeMessage), "TDefineBox"), 0),
						inOneof(typed(optional("DefineStoragePool", 7, typeMessage), "TDefineStoragePool"), 0),
					},
					OneofDecl: []*descriptorpb.OneofDescriptorProto{{Name: proto.String("Command")}},
				}},
			},
		},
	}
}

func mustBuildSchema() protoreflect.MessageDescriptor {
	file, err := protodesc.NewFile(schemaFile(), nil)
	if err != nil {
		panic(fmt.Sprintf("invalid storage config schema: %v", err))
	}
	return file.Messages().ByName("TConfigRequest")
}
