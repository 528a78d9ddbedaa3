// ABOUTME: gRPC client and service descriptor for the external answer pipeline.
// ABOUTME: Messages are google.protobuf.Struct so no generated stubs are needed.

package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName  = "handoff.rag.v1.Pipeline"
	answerMethod = "/" + serviceName + "/Answer"
	scoreMethod  = "/" + serviceName + "/Score"
)

// DefaultApology is returned when the pipeline cannot produce an answer.
const DefaultApology = "Sorry, I couldn't process your question right now. Please try again later."

// Request is a question for the answer pipeline.
type Request struct {
	UserID   string
	Question string
	// Context carries earlier questions on the same topic, oldest first.
	Context []string
}

// Answerer produces a reply for a question. It never fails; errors become
// an apology.
type Answerer interface {
	Answer(ctx context.Context, req Request) string
}

// Client calls a remote pipeline over gRPC.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	apology string
	logger  *slog.Logger
}

// Dial connects to the pipeline at addr. Extra dial options are appended
// after the insecure transport default.
func Dial(addr string, timeout time.Duration, logger *slog.Logger, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialing pipeline %s: %w", addr, err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		conn:    conn,
		timeout: timeout,
		apology: DefaultApology,
		logger:  logger.With("component", "rag"),
	}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Answer asks the pipeline for a reply.
func (c *Client) Answer(ctx context.Context, req Request) string {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	history := make([]any, len(req.Context))
	for i, q := range req.Context {
		history[i] = q
	}
	in, err := structpb.NewStruct(map[string]any{
		"user_id":  req.UserID,
		"question": req.Question,
		"context":  history,
	})
	if err != nil {
		c.logger.Error("building answer request", "error", err)
		return c.apology
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, answerMethod, in, out); err != nil {
		c.logger.Error("answer pipeline failed", "user_id", req.UserID, "error", err)
		return c.apology
	}
	answer := out.GetFields()["answer"].GetStringValue()
	if answer == "" {
		return c.apology
	}
	return answer
}

// Score asks the pipeline how related two texts are.
func (c *Client) Score(ctx context.Context, a, b string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	in, err := structpb.NewStruct(map[string]any{"a": a, "b": b})
	if err != nil {
		return 0, fmt.Errorf("building score request: %w", err)
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, scoreMethod, in, out); err != nil {
		return 0, fmt.Errorf("scoring: %w", err)
	}
	return out.GetFields()["score"].GetNumberValue(), nil
}

// PipelineServer is implemented by pipeline backends.
type PipelineServer interface {
	Answer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Score(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// RegisterPipelineServer attaches srv to a gRPC server.
func RegisterPipelineServer(s grpc.ServiceRegistrar, srv PipelineServer) {
	s.RegisterService(&pipelineServiceDesc, srv)
}

func unaryHandler(call func(PipelineServer, context.Context, *structpb.Struct) (*structpb.Struct, error), fullMethod string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		ps, _ := srv.(PipelineServer)
		if interceptor == nil {
			return call(ps, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			r, _ := req.(*structpb.Struct)
			return call(ps, ctx, r)
		})
	}
}

var pipelineServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PipelineServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Answer",
			Handler:    unaryHandler(PipelineServer.Answer, answerMethod),
		},
		{
			MethodName: "Score",
			Handler:    unaryHandler(PipelineServer.Score, scoreMethod),
		},
	},
	Metadata: "handoff/rag/v1/pipeline.proto",
}
