// Package rpc registers unary gRPC services whose requests and responses are
// google.protobuf.Struct messages. Descriptors are registered in the global
// registry so server reflection and grpcurl can describe the services.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

const structType = ".google.protobuf.Struct"

// HandlerFunc serves one unary method.
type HandlerFunc func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

type Method struct {
	Name    string
	Handler HandlerFunc
}

// Service describes a gRPC service by its fully qualified name.
type Service struct {
	FullName string
	File     string
	Methods  []Method
}

// Register adds the service to the server and its descriptor to the global
// registry. Registering the same file twice reuses the first descriptor.
func Register(server *grpc.Server, svc Service) error {
	if err := registerDescriptor(svc); err != nil {
		return err
	}

	desc := &grpc.ServiceDesc{
		ServiceName: svc.FullName,
		HandlerType: (*interface{})(nil),
		Metadata:    svc.File,
	}
	for _, method := range svc.Methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: method.Name,
			Handler:    unaryHandler("/"+svc.FullName+"/"+method.Name, method.Handler),
		})
	}
	server.RegisterService(desc, &svc)
	return nil
}

// FullMethod returns the invocation path for a method.
func FullMethod(service, method string) string {
	return "/" + service + "/" + method
}

func registerDescriptor(svc Service) error {
	if _, err := protoregistry.GlobalFiles.FindFileByPath(svc.File); err == nil {
		return nil
	}

	idx := strings.LastIndex(svc.FullName, ".")
	if idx <= 0 {
		return fmt.Errorf("service name %q must be package qualified", svc.FullName)
	}
	pkg, name := svc.FullName[:idx], svc.FullName[idx+1:]

	service := &descriptorpb.ServiceDescriptorProto{Name: proto.String(name)}
	for _, method := range svc.Methods {
		service.Method = append(service.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(method.Name),
			InputType:  proto.String(structType),
			OutputType: proto.String(structType),
		})
	}

	fdp := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(svc.File),
		Package:    proto.String(pkg),
		Dependency: []string{(&structpb.Struct{}).ProtoReflect().Descriptor().ParentFile().Path()},
		Syntax:     proto.String("proto3"),
		Service:    []*descriptorpb.ServiceDescriptorProto{service},
	}

	fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		return fmt.Errorf("build descriptor for %s: %w", svc.FullName, err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		return fmt.Errorf("register descriptor for %s: %w", svc.FullName, err)
	}
	return nil
}

func unaryHandler(fullMethod string, fn HandlerFunc) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Encode converts a JSON-tagged value into a Struct.
func Encode(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// Decode fills a JSON-tagged value from a Struct.
func Decode(in *structpb.Struct, v interface{}) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	data, err := in.MarshalJSON()
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}
