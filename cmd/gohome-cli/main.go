package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-electra/internal/config"
	"github.com/joshp123/gohome-electra/internal/core"
	"github.com/joshp123/gohome-electra/internal/rpc"
)

func main() {
	args, jsonOutput := extractJSONFlag(os.Args[1:])
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	addr := resolveAddr()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := grpcurl.BlockingDial(ctx, "tcp", addr, insecure.NewCredentials())
	if err != nil {
		fatal("dial", err)
	}
	defer conn.Close()

	switch args[0] {
	case "plugins":
		pluginsCmd(ctx, conn, args[1:], jsonOutput)
	case "services":
		servicesCmd(ctx, conn)
	case "methods":
		methodsCmd(ctx, conn, args[1:])
	case "call":
		callCmd(ctx, conn, args[1:])
	case "climates", "electrasmart":
		climatesCmd(ctx, conn, args[1:], jsonOutput)
	default:
		usage()
		os.Exit(2)
	}
}

// invoke calls a Struct-typed unary method, mapping req and resp through JSON.
func invoke(ctx context.Context, conn *grpc.ClientConn, service, method string, req, resp any) error {
	in, err := rpc.Encode(req)
	if err != nil {
		return err
	}
	out := &structpb.Struct{}
	if err := conn.Invoke(ctx, rpc.FullMethod(service, method), in, out); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return rpc.Decode(out, resp)
}

func pluginsCmd(ctx context.Context, conn *grpc.ClientConn, args []string, jsonOutput bool) {
	out := outputMode{json: jsonOutput}
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "list":
		var resp core.ListPluginsResponse
		if err := invoke(ctx, conn, core.RegistryServiceName, "ListPlugins", struct{}{}, &resp); err != nil {
			fatal("list plugins", err)
		}
		if out.json {
			out.printJSON(resp)
			return
		}
		rows := [][]string{{"ID", "NAME", "VERSION", "STATUS"}}
		for _, plugin := range resp.Plugins {
			rows = append(rows, []string{plugin.PluginID, plugin.DisplayName, plugin.Version, plugin.Status})
		}
		out.table(rows)
	case "describe":
		if len(args) < 2 {
			fatal("describe", fmt.Errorf("missing plugin id"))
		}
		var resp core.DescribePluginResponse
		if err := invoke(ctx, conn, core.RegistryServiceName, "DescribePlugin", core.DescribePluginRequest{PluginID: args[1]}, &resp); err != nil {
			fatal("describe plugin", err)
		}
		if out.json {
			out.printJSON(resp)
			return
		}
		if resp.Plugin == nil {
			fmt.Println("not found")
			return
		}
		fmt.Printf("id: %s\n", resp.Plugin.PluginID)
		fmt.Printf("name: %s\n", resp.Plugin.DisplayName)
		fmt.Printf("version: %s\n", resp.Plugin.Version)
		fmt.Printf("status: %s\n", resp.Plugin.Status)
		if resp.Plugin.HealthMessage != "" {
			fmt.Printf("health: %s\n", resp.Plugin.HealthMessage)
		}
		fmt.Println("services:")
		for _, svc := range resp.Plugin.Services {
			fmt.Printf("  - %s\n", svc)
		}
		fmt.Println("dashboards:")
		for _, dash := range resp.Plugin.Dashboards {
			fmt.Printf("  - %s (%s)\n", dash.Name, dash.Path)
		}
		fmt.Println("agents_md:")
		fmt.Println(resp.Plugin.AgentsMD)
	default:
		usage()
		os.Exit(2)
	}
}

func servicesCmd(ctx context.Context, conn *grpc.ClientConn) {
	descSource := reflectionSource(ctx, conn)
	services, err := grpcurl.ListServices(descSource)
	if err != nil {
		fatal("list services", err)
	}

	for _, service := range services {
		fmt.Println(service)
	}
}

func methodsCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	if len(args) < 1 {
		fatal("methods", fmt.Errorf("missing service name"))
	}

	descSource := reflectionSource(ctx, conn)
	methods, err := grpcurl.ListMethods(descSource, args[0])
	if err != nil {
		fatal("list methods", err)
	}

	for _, method := range methods {
		fmt.Println(method)
	}
}

func callCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	flags := flag.NewFlagSet("call", flag.ExitOnError)
	data := flags.String("data", "", "JSON request body")
	_ = flags.Parse(args)
	remaining := flags.Args()
	if len(remaining) < 1 {
		fatal("call", fmt.Errorf("missing method (service/method)"))
	}

	method := remaining[0]
	descSource := reflectionSource(ctx, conn)

	var reader io.Reader
	if *data != "" {
		reader = strings.NewReader(*data)
	} else if isStdinTerminal() {
		reader = strings.NewReader("{}")
	} else {
		reader = os.Stdin
	}

	parser, formatter, err := grpcurl.RequestParserAndFormatter(grpcurl.FormatJSON, descSource, reader, grpcurl.FormatOptions{})
	if err != nil {
		fatal("parse request", err)
	}

	handler := grpcurl.NewDefaultEventHandler(os.Stdout, descSource, formatter, false)
	if err := grpcurl.InvokeRPC(ctx, descSource, conn, method, nil, handler, parser.Next); err != nil {
		fatal("invoke", err)
	}
	if handler.Status != nil && handler.Status.Err() != nil {
		fatal("invoke", handler.Status.Err())
	}
}

func reflectionSource(ctx context.Context, conn *grpc.ClientConn) grpcurl.DescriptorSource {
	client := grpcreflect.NewClientAuto(ctx, conn)
	return grpcurl.DescriptorSourceFromServer(ctx, client)
}

func isStdinTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return true
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func extractJSONFlag(args []string) ([]string, bool) {
	out := make([]string, 0, len(args))
	jsonOutput := false
	for _, arg := range args {
		if arg == "--json" || arg == "-json" {
			jsonOutput = true
			continue
		}
		out = append(out, arg)
	}
	return out, jsonOutput
}

func resolveAddr() string {
	if value := os.Getenv("GOHOME_GRPC_ADDR"); value != "" {
		return value
	}
	for _, path := range configSearchPaths() {
		if addr := addrFromConfig(path); addr != "" {
			return addr
		}
	}
	return "gohome:9000"
}

func configSearchPaths() []string {
	paths := []string{config.DefaultPath}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "gohome", "config.yaml"))
	}
	return paths
}

func addrFromConfig(path string) string {
	cfg, err := config.Load(path)
	if err != nil || cfg == nil || cfg.Core == nil {
		return ""
	}
	return cfg.Core.GRPCAddr
}

func usage() {
	fmt.Println("gohome-cli [--json] <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  plugins list")
	fmt.Println("  plugins describe <plugin_id>")
	fmt.Println("  services")
	fmt.Println("  methods <service>")
	fmt.Println("  call <service/method> --data '{}' (or pipe JSON via stdin)")
	fmt.Println("  climates list|show|set (see gohome-cli climates)")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
