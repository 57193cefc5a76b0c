// Package remote runs detection and matching on another asterism instance
// through its gRPC Aligner service.
package remote

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"asterism/internal/align"
	"asterism/internal/config"
	"asterism/internal/detect"
	"asterism/internal/grpcserver"
	"asterism/internal/params"
)

// Client satisfies pipeline.Aligner by forwarding each call.
type Client struct {
	conn    *grpc.ClientConn
	aligner *grpcserver.AlignerClient
}

// Dial connects to cfg.Address. Extra options are appended after the
// transport settings derived from cfg.
func Dial(cfg config.Remote, extra ...grpc.DialOption) (*Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("remote: no address")
	}

	var opts []grpc.DialOption
	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		tlsConfig, err := tlsConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	}

	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                30 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}))
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(64*1024*1024)))
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, aligner: grpcserver.NewAlignerClient(conn)}, nil
}

func tlsConfig(cfg config.Remote) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CACertPath != "" {
		caCert, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to append CA cert")
		}
		tc.RootCAs = pool
	}

	if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertPath, cfg.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}

	return tc, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) DetectFile(ctx context.Context, req align.DetectRequest) (align.FrameReport, error) {
	in, err := structpb.NewStruct(map[string]any{
		"path":      req.Path,
		"threshold": req.Threshold,
		"max_stars": req.MaxStars,
	})
	if err != nil {
		return align.FrameReport{}, err
	}
	out, err := c.aligner.Detect(ctx, in)
	if err != nil {
		return align.FrameReport{Path: req.Path}, fromStatus(err)
	}
	var rep align.FrameReport
	return rep, decode(out, &rep)
}

// MatchFiles forwards a match. Progress is not reported remotely.
func (c *Client) MatchFiles(ctx context.Context, req align.MatchRequest) (align.MatchReport, error) {
	in, err := structpb.NewStruct(map[string]any{
		"reference": req.Reference,
		"target":    req.Target,
		"threshold": req.Params.Threshold,
		"grid":      req.Params.GridCells,
		"tolerance": req.Params.Tolerance,
		"policy":    string(req.Policy),
		"max_stars": req.MaxStars,
		"workers":   req.Workers,
		"overlay":   req.Overlay,
	})
	if err != nil {
		return align.MatchReport{}, err
	}
	out, err := c.aligner.Match(ctx, in)
	if err != nil {
		return align.MatchReport{}, fromStatus(err)
	}
	var rep align.MatchReport
	return rep, decode(out, &rep)
}

// decode goes through encoding/json so numbers keep a plain decimal form.
func decode(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// fromStatus restores the sentinel errors the server mapped to codes.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.InvalidArgument:
		sentinel = params.ErrInvalidParameter
	case codes.FailedPrecondition:
		sentinel = detect.ErrInsufficientSignal
	case codes.NotFound:
		sentinel = os.ErrNotExist
	case codes.DeadlineExceeded:
		sentinel = context.DeadlineExceeded
	case codes.Canceled:
		sentinel = context.Canceled
	default:
		return fmt.Errorf("remote: %s", st.Message())
	}
	return fmt.Errorf("remote: %s: %w", st.Message(), sentinel)
}
