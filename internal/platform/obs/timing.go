package obs

import (
	"context"
	"log"
	"time"
)

type ctxKey string

const RequestIDKey ctxKey = "req_id"

// WithRequestID stores the request ID used by Time in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// Time logs the duration of an outbound operation. Use it deferred:
//
//	defer obs.Time(ctx, "directions.GetRoute")(&err)
//
// Calls made outside an HTTP request (sample ingestion, background tasks)
// carry no request ID and log without one.
func Time(ctx context.Context, op string) func(errp *error) {
	start := time.Now()
	prefix := ""
	if id := RequestID(ctx); id != "" {
		prefix = "req_id=" + id + " "
	}

	return func(errp *error) {
		ms := time.Since(start).Milliseconds()

		if errp != nil && *errp != nil {
			log.Printf("%sop=%s dur=%dms err=%v", prefix, op, ms, *errp)
			return
		}
		log.Printf("%sop=%s dur=%dms", prefix, op, ms)
	}
}
