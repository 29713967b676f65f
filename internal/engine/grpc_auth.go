package engine

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/xela07ax/spaceai-authgate/internal/audit"
	"github.com/xela07ax/spaceai-authgate/internal/infra/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryAuthInterceptor прогоняет gRPC вызов по той же цепочке, что и HTTP фильтр.
// Токен берется из метаданных authorization (в gRPC заголовки в нижнем регистре).
// Методы с префиксами из skip (например, health) пропускаются без проверки.
func UnaryAuthInterceptor(f *auth.Filter, skip ...string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		for _, prefix := range skip {
			if strings.HasPrefix(info.FullMethod, prefix) {
				return handler(ctx, req)
			}
		}

		start := time.Now()
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get("x-trace-id"); len(ids) > 0 {
				ctx = audit.WithTraceID(ctx, ids[0])
			}
		}

		token, found := tokenFromMetadata(ctx)
		d := f.Decide(ctx, token, found)
		f.Audit(ctx, info.FullMethod, d, start)

		if d.Rejected() {
			return nil, status.Error(grpcCode(d.Status), d.Reason)
		}

		// Обогащаем контекст для обработчика
		return handler(auth.WithSecurityContext(ctx, d.Context), req)
	}
}

func tokenFromMetadata(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", false
	}
	token := auth.BearerToken(values[0])
	return token, token != ""
}

// grpcCode переводит HTTP статус отказа фильтра в код gRPC.
func grpcCode(httpStatus int) codes.Code {
	switch httpStatus {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusServiceUnavailable:
		return codes.Unavailable
	}
	return codes.Internal
}
