package bsconfig

import (
	"fmt"

	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Encode builds the protobuf form of req
func Encode(req *Request) (*dynamicpb.Message, error) {
	msg := dynamicpb.NewMessage(configRequestDescriptor)

	for i, cmd := range req.Commands {
		out := appendMessage(msg, "Command")

		set := 0
		if cmd.DefineHostConfig != nil {
			set++
			encodeHostConfig(mutableMessage(out, "DefineHostConfig"), cmd.DefineHostConfig)
		}
		if cmd.DefineBox != nil {
			set++
			encodeBox(mutableMessage(out, "DefineBox"), cmd.DefineBox)
		}
		if cmd.DefineStoragePool != nil {
			set++
			encodeStoragePool(mutableMessage(out, "DefineStoragePool"), cmd.DefineStoragePool)
		}
		if set != 1 {
			return nil, fmt.Errorf("command %d must hold exactly one operation, got %d", i, set)
		}
	}

	return msg, nil
}

// Marshal renders req in protobuf text format
func Marshal(req *Request) (string, error) {
	msg, err := Encode(req)
	if err != nil {
		return "", err
	}
	data, err := prototext.MarshalOptions{}.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config request: %w", err)
	}
	return string(data), nil
}

// Unmarshal parses a request from protobuf text format
func Unmarshal(text string) (*Request, error) {
	msg := dynamicpb.NewMessage(configRequestDescriptor)
	if err := prototext.Unmarshal([]byte(text), msg); err != nil {
		return nil, fmt.Errorf("failed to parse config request: %w", err)
	}
	return Decode(msg), nil
}

// Decode converts a protobuf request back to the model
func Decode(msg protoreflect.Message) *Request {
	req := &Request{}
	for _, in := range messages(msg, "Command") {
		var cmd Command
		if m, ok := message(in, "DefineHostConfig"); ok {
			cmd.DefineHostConfig = decodeHostConfig(m)
		}
		if m, ok := message(in, "DefineBox"); ok {
			cmd.DefineBox = decodeBox(m)
		}
		if m, ok := message(in, "DefineStoragePool"); ok {
			cmd.DefineStoragePool = decodeStoragePool(m)
		}
		req.Commands = append(req.Commands, cmd)
	}
	return req
}

func encodeHostConfig(m protoreflect.Message, hc *DefineHostConfig) {
	set(m, "HostConfigId", protoreflect.ValueOfUint64(hc.HostConfigID))
	for _, drive := range hc.Drives {
		d := appendMessage(m, "Drive")
		set(d, "Path", protoreflect.ValueOfString(drive.Path))
		set(d, "Kind", protoreflect.ValueOfUint64(drive.Kind))
		set(d, "Type", protoreflect.ValueOfEnum(protoreflect.EnumNumber(drive.Type)))
	}
}

func encodeBox(m protoreflect.Message, box *DefineBox) {
	set(m, "BoxId", protoreflect.ValueOfUint64(box.BoxID))
	for _, host := range box.Hosts {
		h := appendMessage(m, "Host")
		key := mutableMessage(h, "Key")
		set(key, "Fqdn", protoreflect.ValueOfString(host.Fqdn))
		set(key, "IcPort", protoreflect.ValueOfInt32(host.IcPort))
		set(h, "HostConfigId", protoreflect.ValueOfUint64(host.HostConfigID))
	}
}

func encodeStoragePool(m protoreflect.Message, pool *DefineStoragePool) {
	set(m, "BoxId", protoreflect.ValueOfUint64(pool.BoxID))
	set(m, "StoragePoolId", protoreflect.ValueOfUint64(pool.StoragePoolID))
	set(m, "Name", protoreflect.ValueOfString(pool.Name))
	set(m, "Kind", protoreflect.ValueOfString(pool.Kind))
	set(m, "ErasureSpecies", protoreflect.ValueOfString(pool.ErasureSpecies))
	set(m, "VDiskKind", protoreflect.ValueOfString(pool.VDiskKind))
	set(m, "NumGroups", protoreflect.ValueOfUint32(pool.NumGroups))

	for _, filter := range pool.PDiskFilters {
		f := appendMessage(m, "PDiskFilter")
		for _, prop := range filter.Properties {
			p := appendMessage(f, "Property")
			switch {
			case prop.Type != nil:
				set(p, "Type", protoreflect.ValueOfEnum(protoreflect.EnumNumber(*prop.Type)))
			case prop.Kind != nil:
				set(p, "Kind", protoreflect.ValueOfUint64(*prop.Kind))
			}
		}
	}
}

func decodeHostConfig(m protoreflect.Message) *DefineHostConfig {
	hc := &DefineHostConfig{HostConfigID: get(m, "HostConfigId").Uint()}
	for _, d := range messages(m, "Drive") {
		hc.Drives = append(hc.Drives, Drive{
			Path: get(d, "Path").String(),
			Kind: get(d, "Kind").Uint(),
			Type: PDiskType(get(d, "Type").Enum()),
		})
	}
	return hc
}

func decodeBox(m protoreflect.Message) *DefineBox {
	box := &DefineBox{BoxID: get(m, "BoxId").Uint()}
	for _, h := range messages(m, "Host") {
		key := get(h, "Key").Message()
		box.Hosts = append(box.Hosts, BoxHost{
			Fqdn:         get(key, "Fqdn").String(),
			IcPort:       int32(get(key, "IcPort").Int()),
			HostConfigID: get(h, "HostConfigId").Uint(),
		})
	}
	return box
}

func decodeStoragePool(m protoreflect.Message) *DefineStoragePool {
	pool := &DefineStoragePool{
		BoxID:          get(m, "BoxId").Uint(),
		StoragePoolID:  get(m, "StoragePoolId").Uint(),
		Name:           get(m, "Name").String(),
		Kind:           get(m, "Kind").String(),
		ErasureSpecies: get(m, "ErasureSpecies").String(),
		VDiskKind:      get(m, "VDiskKind").String(),
		NumGroups:      uint32(get(m, "NumGroups").Uint()),
	}
	for _, f := range messages(m, "PDiskFilter") {
		var filter PDiskFilter
		for _, p := range messages(f, "Property") {
			if has(p, "Type") {
				filter.Properties = append(filter.Properties, TypeProperty(PDiskType(get(p, "Type").Enum())))
			} else if has(p, "Kind") {
				filter.Properties = append(filter.Properties, KindProperty(get(p, "Kind").Uint()))
			}
		}
		pool.PDiskFilters = append(pool.PDiskFilters, filter)
	}
	return pool
}

func field(m protoreflect.Message, name string) protoreflect.FieldDescriptor {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		panic(fmt.Sprintf("%s has no field %s", m.Descriptor().FullName(), name))
	}
	return fd
}

func set(m protoreflect.Message, name string, v protoreflect.Value) {
	m.Set(field(m, name), v)
}

func get(m protoreflect.Message, name string) protoreflect.Value {
	return m.Get(field(m, name))
}

func has(m protoreflect.Message, name string) bool {
	return m.Has(field(m, name))
}

func mutableMessage(m protoreflect.Message, name string) protoreflect.Message {
	return m.Mutable(field(m, name)).Message()
}

func message(m protoreflect.Message, name string) (protoreflect.Message, bool) {
	if !has(m, name) {
		return nil, false
	}
	return get(m, name).Message(), true
}

func appendMessage(m protoreflect.Message, name string) protoreflect.Message {
	list := m.Mutable(field(m, name)).List()
	elem := list.NewElement()
	list.Append(elem)
	return elem.Message()
}

func messages(m protoreflect.Message, name string) []protoreflect.Message {
	list := get(m, name).List()
	out := make([]protoreflect.Message, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		out = append(out, list.Get(i).Message())
	}
	return out
}
