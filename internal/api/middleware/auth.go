package middleware

import (
	"net/http"

	"github.com/kurolabs/kuro-gateway/pkg/contracts"
	pkgmw "github.com/kurolabs/kuro-gateway/pkg/middleware"
)

// Resolver runs the auth provider chain and installs the caller on the
// request context. An anonymous request passes through with no caller
// (downstream reads it as the guest caller); a failed auth attempt is
// rejected here with 401 so bad credentials never fall back to guest.
func Resolver(chain contracts.AuthChain) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := chain.Authenticate(r.Context(), r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid credentials"}`))
				return
			}
			if caller != nil {
				r = r.WithContext(pkgmw.SetCaller(r.Context(), caller))
			}
			next.ServeHTTP(w, r)
		})
	}
}
