package grpcapi

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/corner/services/comments/internal/service"
	"github.com/example/corner/services/comments/internal/store"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "corner.comments.v1.CommentService"

// CommentService is the slice of service.Service exposed over gRPC.
type CommentService interface {
	CreateComment(ctx context.Context, factID string, author service.Author, text string) (store.Comment, error)
	ListWithViewerState(ctx context.Context, factID, viewerID string) ([]service.CommentView, error)
	CountComments(ctx context.Context, factID string) (int64, error)
	Like(ctx context.Context, commentID, userID string) (service.LikeState, error)
	Unlike(ctx context.Context, commentID, userID string) (service.LikeState, error)
}

// CommentServiceServer is the server API. Requests and responses are
// google.protobuf.Struct so clients in any language can call it without
// generated stubs.
type CommentServiceServer interface {
	CreateComment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListComments(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CountComments(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LikeComment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UnlikeComment(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Server implements CommentServiceServer over a CommentService.
type Server struct {
	Comments CommentService
	Log      *zap.Logger
}

var _ CommentServiceServer = (*Server)(nil)

type identity struct {
	userID   string
	username string
}

func identityFromMD(ctx context.Context) identity {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return identity{}
	}
	first := func(key string) string {
		if vals := md.Get(key); len(vals) > 0 {
			return strings.TrimSpace(vals[0])
		}
		return ""
	}
	return identity{userID: first("user_id"), username: first("username")}
}

func requireUser(ctx context.Context) (identity, error) {
	id := identityFromMD(ctx)
	if id.userID == "" {
		return id, errUnauthenticated("missing user_id in metadata")
	}
	return id, nil
}

func field(req *structpb.Struct, name string) string {
	if v, ok := req.GetFields()[name]; ok {
		return strings.TrimSpace(v.GetStringValue())
	}
	return ""
}

func requireField(req *structpb.Struct, name string) (string, error) {
	v := field(req, name)
	if v == "" {
		return "", errInvalidArgument("MISSING_FIELD", name+" is required", map[string]string{name: "must not be empty"})
	}
	return v, nil
}

func commentFields(c store.Comment) map[string]any {
	return map[string]any{
		"id":             c.ID,
		"factId":         c.FactID,
		"authorUsername": c.AuthorUsername,
		"text":           c.Text,
		"createdAt":      c.CreatedAt.UTC().Format(time.RFC3339Nano),
		"likeCount":      c.LikeCount,
	}
}

func (s *Server) toStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		if s.Log != nil {
			s.Log.Error("encode response", zap.Error(err))
		}
		return nil, withInfo(codes.Internal, "INTERNAL", "failed to encode response")
	}
	return out, nil
}

func (s *Server) CreateComment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	factID, err := requireField(req, "fact_id")
	if err != nil {
		return nil, err
	}
	// Blank text is left to the service's validation.
	text := ""
	if v, ok := req.GetFields()["text"]; ok {
		text = v.GetStringValue()
	}

	c, err := s.Comments.CreateComment(ctx, factID, service.Author{UserID: id.userID, Username: id.username}, text)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.toStruct(map[string]any{"comment": commentFields(c)})
}

func (s *Server) ListComments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	factID, err := requireField(req, "fact_id")
	if err != nil {
		return nil, err
	}
	views, err := s.Comments.ListWithViewerState(ctx, factID, identityFromMD(ctx).userID)
	if err != nil {
		return nil, toStatus(err)
	}
	list := make([]any, 0, len(views))
	for _, v := range views {
		m := commentFields(v.Comment)
		m["likedByViewer"] = v.LikedByViewer
		list = append(list, m)
	}
	return s.toStruct(map[string]any{"comments": list})
}

func (s *Server) CountComments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	factID, err := requireField(req, "fact_id")
	if err != nil {
		return nil, err
	}
	n, err := s.Comments.CountComments(ctx, factID)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.toStruct(map[string]any{"count": n})
}

func (s *Server) LikeComment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.toggle(ctx, req, s.Comments.Like)
}

func (s *Server) UnlikeComment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.toggle(ctx, req, s.Comments.Unlike)
}

func (s *Server) toggle(ctx context.Context, req *structpb.Struct, op func(context.Context, string, string) (service.LikeState, error)) (*structpb.Struct, error) {
	id, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	commentID, err := requireField(req, "comment_id")
	if err != nil {
		return nil, err
	}
	st, err := op(ctx, commentID, id.userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.toStruct(map[string]any{
		"commentId":     st.CommentID,
		"likeCount":     st.LikeCount,
		"likedByViewer": st.LikedByViewer,
	})
}

func unary(method string, call func(CommentServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CommentServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(CommentServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes CommentService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CommentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateComment", CommentServiceServer.CreateComment),
		unary("ListComments", CommentServiceServer.ListComments),
		unary("CountComments", CommentServiceServer.CountComments),
		unary("LikeComment", CommentServiceServer.LikeComment),
		unary("UnlikeComment", CommentServiceServer.UnlikeComment),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "corner/comments/v1/comments.proto",
}

// Register installs the comment service and the standard health service.
func Register(s *grpc.Server, srv CommentServiceServer) *health.Server {
	s.RegisterService(&ServiceDesc, srv)
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	h.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return h
}
