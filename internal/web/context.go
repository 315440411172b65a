package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

// withRequestMetadata adds the client address and User-Agent to ctx so the
// service can log who started an import. RemoteAddr is already rewritten by
// TrustedRealIP.
func withRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithIPAddress(ctx, r.RemoteAddr)
	ctx = core.ContextWithUserAgent(ctx, r.Header.Get("User-Agent"))
	return ctx
}
