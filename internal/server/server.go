package server

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// GRPCServer wraps a gRPC server and listener.
type GRPCServer struct {
	Server   *grpc.Server
	Listener net.Listener
}

func NewGRPCServer(addr string, logger *slog.Logger) (*GRPCServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := grpc.NewServer(grpc.UnaryInterceptor(logUnary(logger)))
	reflection.Register(s)

	return &GRPCServer{Server: s, Listener: ln}, nil
}

func (s *GRPCServer) Serve() error {
	return s.Server.Serve(s.Listener)
}

func logUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		rpcRequests.WithLabelValues(info.FullMethod, code.String()).Inc()
		if err != nil && logger != nil {
			logger.Warn("rpc failed", "method", info.FullMethod, "code", code.String(), "duration", time.Since(start), "err", err)
		}
		return resp, err
	}
}
