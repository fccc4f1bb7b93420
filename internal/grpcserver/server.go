package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"astrored/internal/mpc80"
	"astrored/internal/orbit"
	"astrored/internal/pipeline"
	"astrored/internal/storage"
)

const maxMsgSize = 16 * 1024 * 1024

// OrbitServer implements OrbitServiceServer on top of the pipeline.
type OrbitServer struct {
	pipeline *pipeline.Pipeline
	store    *storage.Store
	decoder  mpc80.Decoder
	log      *slog.Logger
}

// NewOrbitServer creates a server. store may be nil, in which case
// GetJob reports Unavailable.
func NewOrbitServer(pipe *pipeline.Pipeline, store *storage.Store, decoder mpc80.Decoder, log *slog.Logger) *OrbitServer {
	if log == nil {
		log = slog.Default()
	}
	return &OrbitServer{pipeline: pipe, store: store, decoder: decoder, log: log}
}

// Register adds the service to grpcServer.
func (s *OrbitServer) Register(grpcServer *grpc.Server) {
	RegisterOrbitServiceServer(grpcServer, s)
}

// Start listens on addr and serves until ctx is canceled.
func (s *OrbitServer) Start(ctx context.Context, addr string) error {
	listen, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listen)
}

// Serve runs on an existing listener.
func (s *OrbitServer) Serve(ctx context.Context, listen net.Listener) error {
	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	s.Register(grpcServer)

	go func() {
		<-ctx.Done()
		s.log.Info("stopping grpc server")
		grpcServer.GracefulStop()
	}()

	s.log.Info("grpc server starting", "addr", listen.Addr().String())
	if err := grpcServer.Serve(listen); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// toStruct converts any JSON-serializable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *OrbitServer) Solve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var lines []string
	for _, v := range req.GetFields()["lines"].GetListValue().GetValues() {
		lines = append(lines, v.GetStringValue())
	}
	obs, err := s.decoder.Decode(lines)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode observations: %v", err)
	}
	if len(obs) == 0 {
		return nil, status.Error(codes.InvalidArgument, "no valid observations")
	}

	res, err := s.pipeline.Run(ctx, pipeline.Job{
		Type:         pipeline.JobSolve,
		Target:       req.GetFields()["target"].GetStringValue(),
		Source:       "grpc",
		Observations: obs,
	})
	switch {
	case errors.Is(err, pipeline.ErrQueueFull):
		return nil, status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	case err != nil:
		return nil, status.Error(codes.Internal, err.Error())
	}
	// a failed solve is still a complete answer: the event carries the
	// attempts and the error text
	out, err := toStruct(res.Event())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *OrbitServer) ConvertAnomaly(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	if _, ok := f["eccentricity"]; !ok {
		return nil, status.Error(codes.InvalidArgument, "eccentricity is required")
	}
	mean := orbit.Element{Value: f["mean_anomaly"].GetNumberValue(), Sigma: f["sigma"].GetNumberValue()}
	ecc, nu, err := orbit.MeanToTrue(mean, f["eccentricity"].GetNumberValue())
	switch {
	case errors.Is(err, orbit.ErrEccentricity):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case err != nil:
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	return toStruct(map[string]any{"eccentric": ecc, "true": nu})
}

func (s *OrbitServer) GetJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.Unavailable, "job history is not configured")
	}
	id := req.GetFields()["id"].GetStringValue()
	rec, err := s.store.Job(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "job %s not found", id)
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	detail := map[string]any{"job": rec}
	if meta, err := s.store.JobMeta(id); err == nil && meta != nil {
		detail["meta"] = meta
	}
	if attempts, err := s.store.Attempts(id); err == nil {
		detail["attempts"] = attempts
	}
	return toStruct(detail)
}

func (s *OrbitServer) WatchJobs(_ *emptypb.Empty, stream OrbitService_WatchJobsServer) error {
	results, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-results:
			if !ok {
				return nil
			}
			ev, err := toStruct(res.Event())
			if err != nil {
				s.log.Warn("encode event", "job", res.Job.ID, "error", err)
				continue
			}
			if err := stream.Send(ev); err != nil {
				return err
			}
		}
	}
}
