package rpc

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/known/structpb"
)

type echoRequest struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestRegisterServesStructMethods(t *testing.T) {
	server := grpc.NewServer()
	err := Register(server, Service{
		FullName: "gohome.test.v1.EchoService",
		File:     "gohome/test/v1/echo.proto",
		Methods: []Method{
			{
				Name: "Echo",
				Handler: func(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
					var in echoRequest
					if err := Decode(req, &in); err != nil {
						return nil, err
					}
					if in.Name == "" {
						return nil, status.Error(codes.InvalidArgument, "name required")
					}
					return Encode(echoRequest{Name: "hi " + in.Name, Value: in.Value * 2})
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	listener := bufconn.Listen(1 << 20)
	go func() { _ = server.Serve(listener) }()
	defer server.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req, err := structpb.NewStruct(map[string]interface{}{"name": "ac", "value": 21})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	resp := &structpb.Struct{}
	if err := conn.Invoke(context.Background(), FullMethod("gohome.test.v1.EchoService", "Echo"), req, resp); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := resp.Fields["name"].GetStringValue(); got != "hi ac" {
		t.Fatalf("unexpected name: %s", got)
	}
	if got := resp.Fields["value"].GetNumberValue(); got != 42 {
		t.Fatalf("unexpected value: %v", got)
	}

	err = conn.Invoke(context.Background(), FullMethod("gohome.test.v1.EchoService", "Echo"), &structpb.Struct{}, resp)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}

	desc, err := protoregistry.GlobalFiles.FindDescriptorByName(protoreflect.FullName("gohome.test.v1.EchoService"))
	if err != nil {
		t.Fatalf("descriptor not registered: %v", err)
	}
	if _, ok := desc.(protoreflect.ServiceDescriptor); !ok {
		t.Fatalf("unexpected descriptor type %T", desc)
	}
}

func TestRegisterRejectsUnqualifiedName(t *testing.T) {
	if err := Register(grpc.NewServer(), Service{FullName: "Echo", File: "echo_bad.proto"}); err == nil {
		t.Fatalf("expected error for unqualified service name")
	}
}
