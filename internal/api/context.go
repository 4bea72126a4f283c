// internal/api/context.go
package api

import "context"

func contextWithAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, addrKey, addr)
}

// addrFrom returns the authenticated address. Only reachable behind the
// authenticate middleware, so the value is always present.
func addrFrom(ctx context.Context) string {
	addr, _ := ctx.Value(addrKey).(string)
	return addr
}
