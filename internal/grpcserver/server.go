package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"asterism/internal/align"
	"asterism/internal/detect"
	"asterism/internal/match"
	"asterism/internal/params"
	"asterism/internal/pipeline"
	"asterism/internal/storage"
)

// AlignServer answers Detect and Match synchronously and records each call
// in the job history.
type AlignServer struct {
	svc      pipeline.Aligner
	defaults pipeline.Settings
	store    *storage.Store
	log      *slog.Logger
	creds    credentials.TransportCredentials
}

// NewAlignServer creates the gRPC service implementation.
func NewAlignServer(svc pipeline.Aligner, defaults pipeline.Settings, store *storage.Store, log *slog.Logger) *AlignServer {
	return &AlignServer{svc: svc, defaults: defaults, store: store, log: log}
}

// UseTLS serves with the given certificate instead of plaintext.
func (s *AlignServer) UseTLS(certPath, keyPath string) error {
	creds, err := credentials.NewServerTLSFromFile(certPath, keyPath)
	if err != nil {
		return fmt.Errorf("failed to load server cert: %w", err)
	}
	s.creds = creds
	return nil
}

// Start serves on addr until ctx is cancelled.
func (s *AlignServer) Start(ctx context.Context, addr string) error {
	listen, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listen)
}

// Serve serves on lis until ctx is cancelled.
func (s *AlignServer) Serve(ctx context.Context, lis net.Listener) error {
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(16 * 1024 * 1024),
		grpc.MaxSendMsgSize(64 * 1024 * 1024),
	}
	if s.creds != nil {
		opts = append(opts, grpc.Creds(s.creds))
	}
	grpcServer := grpc.NewServer(opts...)
	RegisterAlignerServer(grpcServer, s)

	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
	}()

	s.log.Info("grpc server starting", "addr", lis.Addr().String(), "service", ServiceName, "tls", s.creds != nil)
	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *AlignServer) Detect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	dr := align.DetectRequest{
		Path:      stringField(f, "path"),
		Threshold: intField(f, "threshold", s.defaults.Params.Threshold),
		MaxStars:  intField(f, "max_stars", s.defaults.MaxStars),
	}
	if dr.Path == "" {
		return nil, status.Error(codes.InvalidArgument, "path is required")
	}

	id := pipeline.NewID("detect")
	s.begin(id, pipeline.JobDetect, dr.Path, "", req)
	start := time.Now()
	rep, err := s.svc.DetectFile(ctx, dr)
	s.finish(id, pipeline.JobDetect, start, rep.Meta(), err)
	if err != nil {
		return nil, toStatus(err)
	}
	_ = s.store.RecordStars(id, pipeline.FrameReference, rep.Stars)
	return toStruct(id, rep)
}

func (s *AlignServer) Match(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	mr := align.MatchRequest{
		Reference: stringField(f, "reference"),
		Target:    stringField(f, "target"),
		Params: params.Params{
			Threshold: intField(f, "threshold", s.defaults.Params.Threshold),
			GridCells: intField(f, "grid", s.defaults.Params.GridCells),
			Tolerance: floatField(f, "tolerance", s.defaults.Params.Tolerance),
		},
		Policy:   s.defaults.Policy,
		MaxStars: intField(f, "max_stars", s.defaults.MaxStars),
		Workers:  intField(f, "workers", s.defaults.MatchWorkers),
		Overlay:  stringField(f, "overlay"),
	}
	if mr.Reference == "" || mr.Target == "" {
		return nil, status.Error(codes.InvalidArgument, "reference and target are required")
	}
	if p := stringField(f, "policy"); p != "" {
		policy, err := match.ParsePolicy(p)
		if err != nil {
			return nil, toStatus(err)
		}
		mr.Policy = policy
	}
	if s.defaults.MatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.defaults.MatchTimeout)
		defer cancel()
	}

	id := pipeline.NewID("match")
	s.begin(id, pipeline.JobMatch, mr.Reference, mr.Overlay, req)
	start := time.Now()
	rep, err := s.svc.MatchFiles(ctx, mr)
	if err != nil && rep.Partial && align.IsTimeout(err) {
		err = nil
	}
	s.finish(id, pipeline.JobMatch, start, rep.Meta(), err)
	if err != nil {
		return nil, toStatus(err)
	}
	_ = s.store.RecordStars(id, pipeline.FrameReference, rep.Reference.Stars)
	_ = s.store.RecordStars(id, pipeline.FrameTarget, rep.Target.Stars)
	_ = s.store.RecordCorrespondences(id, rep.Correspondences)
	return toStruct(id, rep)
}

func (s *AlignServer) begin(id string, jobType pipeline.JobType, input, output string, req *structpb.Struct) {
	opts, _ := req.MarshalJSON()
	_ = s.store.RecordJobQueued(storage.JobRecord{
		ID:          id,
		JobType:     string(jobType),
		Status:      pipeline.StatusQueued,
		InputPath:   input,
		OutputPath:  output,
		OptionsJSON: string(opts),
	})
	_ = s.store.RecordJobStart(id)
}

func (s *AlignServer) finish(id string, jobType pipeline.JobType, start time.Time, meta map[string]any, err error) {
	st := pipeline.StatusCompleted
	msg := ""
	if err != nil {
		st, msg = pipeline.StatusFailed, err.Error()
		s.log.Warn("grpc call failed", "type", jobType, "id", id, "error", err)
	} else if partial, _ := meta["partial"].(bool); partial {
		st = pipeline.StatusPartial
	}
	s.log.Info("grpc call", "type", jobType, "id", id, "status", st, "duration_ms", time.Since(start).Milliseconds())
	_ = s.store.RecordJobResult(id, st, meta, msg)
}

// toStruct converts a report to a Struct through its JSON form.
func toStruct(id string, v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	m["id"] = id
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, params.ErrInvalidParameter):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, detect.ErrInsufficientSignal):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, os.ErrNotExist):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func stringField(f map[string]*structpb.Value, key string) string {
	if v, ok := f[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func intField(f map[string]*structpb.Value, key string, def int) int {
	if v, ok := f[key]; ok {
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); isNum {
			return int(v.GetNumberValue())
		}
	}
	return def
}

func floatField(f map[string]*structpb.Value, key string, def float64) float64 {
	if v, ok := f[key]; ok {
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); isNum {
			return v.GetNumberValue()
		}
	}
	return def
}
