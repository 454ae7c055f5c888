package electrasmart

import (
	"context"
	"errors"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-electra/internal/entry"
	"github.com/joshp123/gohome-electra/internal/flow"
	"github.com/joshp123/gohome-electra/internal/rpc"
)

const (
	ServiceName = "gohome.plugins.electrasmart.v1.ElectraSmartService"
	serviceFile = "gohome/plugins/electrasmart/v1/electrasmart.proto"
)

type ClimateRequest struct {
	UniqueID string `json:"unique_id"`
}

type SetTemperatureRequest struct {
	UniqueID    string  `json:"unique_id"`
	Temperature float64 `json:"temperature"`
}

// SetModeRequest is shared by the hvac, fan, swing, and preset setters.
type SetModeRequest struct {
	UniqueID string `json:"unique_id"`
	Mode     string `json:"mode"`
}

type ListClimatesResponse struct {
	Climates []ClimateState `json:"climates"`
}

type SubmitSetupRequest struct {
	FlowID string            `json:"flow_id"`
	Input  map[string]string `json:"input"`
}

type OptionsRequest struct {
	EntryID      string `json:"entry_id"`
	ScanInterval int    `json:"scan_interval,omitempty"`
}

type OptionsResponse struct {
	EntryID      string            `json:"entry_id"`
	Title        string            `json:"title"`
	ScanInterval int               `json:"scan_interval"`
	Errors       map[string]string `json:"errors,omitempty"`
}

type service struct {
	runtime *Runtime
	flows   *flow.Manager
	entries *entry.Store
}

// RegisterService exposes climates and setup on the gRPC server.
func RegisterService(server *grpc.Server, runtime *Runtime, flows *flow.Manager, entries *entry.Store) error {
	s := &service{runtime: runtime, flows: flows, entries: entries}
	return rpc.Register(server, rpc.Service{
		FullName: ServiceName,
		File:     serviceFile,
		Methods: []rpc.Method{
			{Name: "ListClimates", Handler: s.listClimates},
			{Name: "GetClimate", Handler: s.getClimate},
			{Name: "SetTemperature", Handler: s.setTemperature},
			{Name: "SetHvacMode", Handler: s.modeSetter((*Climate).SetHVACMode)},
			{Name: "SetFanMode", Handler: s.modeSetter((*Climate).SetFanMode)},
			{Name: "SetSwingMode", Handler: s.modeSetter((*Climate).SetSwingMode)},
			{Name: "SetPresetMode", Handler: s.modeSetter((*Climate).SetPresetMode)},
			{Name: "StartSetup", Handler: s.startSetup},
			{Name: "SubmitSetup", Handler: s.submitSetup},
			{Name: "GetOptions", Handler: s.getOptions},
			{Name: "SetOptions", Handler: s.setOptions},
		},
	})
}

func (s *service) listClimates(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.runtime == nil {
		return nil, status.Error(codes.FailedPrecondition, "electrasmart runtime not configured")
	}
	resp := ListClimatesResponse{Climates: []ClimateState{}}
	for _, climate := range s.runtime.Climates() {
		resp.Climates = append(resp.Climates, climate.State())
	}
	return rpc.Encode(resp)
}

func (s *service) getClimate(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ClimateRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, err
	}
	if req.UniqueID == "" {
		return nil, status.Error(codes.InvalidArgument, "unique_id is required")
	}
	if s.runtime == nil {
		return nil, status.Error(codes.FailedPrecondition, "electrasmart runtime not configured")
	}
	climate, err := s.runtime.Climate(req.UniqueID)
	if err != nil {
		return nil, statusFromError("get climate", err)
	}
	return rpc.Encode(climate.State())
}

func (s *service) setTemperature(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SetTemperatureRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, err
	}
	return s.command(req.UniqueID, "set temperature", func(c *Climate) error {
		return c.SetTemperature(ctx, req.Temperature)
	})
}

func (s *service) modeSetter(set func(*Climate, context.Context, string) error) rpc.HandlerFunc {
	return func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		var req SetModeRequest
		if err := rpc.Decode(in, &req); err != nil {
			return nil, err
		}
		if req.Mode == "" {
			return nil, status.Error(codes.InvalidArgument, "mode is required")
		}
		return s.command(req.UniqueID, "set mode", func(c *Climate) error {
			return set(c, ctx, req.Mode)
		})
	}
}

func (s *service) command(uniqueID, op string, fn func(*Climate) error) (*structpb.Struct, error) {
	if uniqueID == "" {
		return nil, status.Error(codes.InvalidArgument, "unique_id is required")
	}
	if s.runtime == nil {
		return nil, status.Error(codes.FailedPrecondition, "electrasmart runtime not configured")
	}
	if err := s.runtime.Command(uniqueID, fn); err != nil {
		return nil, statusFromError(op, err)
	}
	climate, err := s.runtime.Climate(uniqueID)
	if err != nil {
		return nil, statusFromError(op, err)
	}
	return rpc.Encode(climate.State())
}

func (s *service) startSetup(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.flows.Start(ctx, Domain)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "start setup: %v", err)
	}
	return rpc.Encode(redact(res))
}

func (s *service) submitSetup(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SubmitSetupRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, err
	}
	if req.FlowID == "" {
		return nil, status.Error(codes.InvalidArgument, "flow_id is required")
	}
	res, err := s.flows.Submit(ctx, req.FlowID, req.Input)
	if errors.Is(err, flow.ErrUnknownFlow) {
		return nil, status.Error(codes.NotFound, "setup flow expired or unknown")
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "submit setup: %v", err)
	}
	return rpc.Encode(redact(res))
}

func (s *service) getOptions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req OptionsRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, err
	}
	e, err := s.resolveEntry(ctx, req.EntryID)
	if err != nil {
		return nil, err
	}
	return rpc.Encode(OptionsResponse{
		EntryID:      e.EntryID,
		Title:        e.Title,
		ScanInterval: e.Option(ConfScanInterval, int(DefaultScanInterval.Seconds())),
	})
}

// setOptions runs the options flow in one call.
func (s *service) setOptions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req OptionsRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, err
	}
	e, err := s.resolveEntry(ctx, req.EntryID)
	if err != nil {
		return nil, err
	}

	res, err := s.flows.StartOptions(ctx, Domain, e.EntryID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "start options: %v", err)
	}
	res, err = s.flows.Submit(ctx, res.FlowID, map[string]string{
		ConfScanInterval: strconv.Itoa(req.ScanInterval),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "set options: %v", err)
	}
	if res.Type == flow.ResultForm {
		s.flows.Cancel(res.FlowID)
		return nil, status.Errorf(codes.InvalidArgument, "invalid options: %v", res.Errors)
	}

	updated, err := s.entries.Get(ctx, Domain, e.EntryID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "reload entry: %v", err)
	}
	return rpc.Encode(OptionsResponse{
		EntryID:      updated.EntryID,
		Title:        updated.Title,
		ScanInterval: updated.Option(ConfScanInterval, int(DefaultScanInterval.Seconds())),
	})
}

// resolveEntry falls back to the only entry when entryID is empty.
func (s *service) resolveEntry(ctx context.Context, entryID string) (entry.Entry, error) {
	if entryID != "" {
		e, err := s.entries.Get(ctx, Domain, entryID)
		if errors.Is(err, entry.ErrEntryNotFound) {
			return entry.Entry{}, status.Errorf(codes.NotFound, "entry %s not found", entryID)
		}
		if err != nil {
			return entry.Entry{}, status.Errorf(codes.Internal, "load entry: %v", err)
		}
		return e, nil
	}

	entries, err := s.entries.Entries(ctx, Domain)
	if err != nil {
		return entry.Entry{}, status.Errorf(codes.Internal, "load entries: %v", err)
	}
	switch len(entries) {
	case 0:
		return entry.Entry{}, status.Error(codes.FailedPrecondition, "no electrasmart entry, run setup first")
	case 1:
		return entries[0], nil
	default:
		return entry.Entry{}, status.Error(codes.InvalidArgument, "entry_id is required when several entries exist")
	}
}

// redact drops the stored credentials from a finished setup result.
func redact(res flow.Result) flow.Result {
	res.Data = nil
	return res
}

func statusFromError(op string, err error) error {
	var hostErr *HostError
	switch {
	case errors.Is(err, ErrClimateNotFound):
		return status.Errorf(codes.NotFound, "%s: %v", op, err)
	case errors.Is(err, ErrInvalidValue):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, ErrReauthRequired):
		return status.Errorf(codes.Unauthenticated, "%s: %v", op, err)
	case errors.Is(err, ErrNotReady), errors.As(err, &hostErr):
		return status.Errorf(codes.Unavailable, "%s: %v", op, err)
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}
