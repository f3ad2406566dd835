package interceptors

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/interceptors/constants"
)

// UnaryServerInterceptor copies x-request-id from the incoming metadata into
// the context. A missing request id is generated.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		requestID := GetMetadataValue(ctx, constants.HeaderXRequestId)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		return handler(context.WithValue(ctx, constants.ContextKeyRequestID, requestID), req)
	}
}

// GetIDFromContext returns the request id set by UnaryServerInterceptor, or
// "unknown".
func GetIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(constants.ContextKeyRequestID).(string); ok && id != "" {
		return id
	}
	if id := GetMetadataValue(ctx, constants.HeaderXRequestId); id != "" {
		return id
	}
	return "unknown"
}

func GetMetadataValue(ctx context.Context, key string) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(key); len(ids) > 0 {
			return ids[0]
		}
	}
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		if ids := md.Get(key); len(ids) > 0 {
			return ids[0]
		}
	}
	return ""
}
