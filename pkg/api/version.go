package api

import (
	"fmt"
	"net/http"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

var supportedVersions = mustConstraint("^" + contracts.ProtocolVersion)

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}

// CheckVersion reports whether a client's X-AATP-Version is compatible.
// An empty header is accepted.
func CheckVersion(header string) error {
	if header == "" {
		return nil
	}
	v, err := semver.NewVersion(header)
	if err != nil {
		return contracts.NewError(contracts.CodeInvalidRequest, fmt.Sprintf("malformed %s %q", contracts.HeaderVersion, header))
	}
	if !supportedVersions.Check(v) {
		return contracts.NewError(contracts.CodeInvalidRequest,
			fmt.Sprintf("protocol version %s is not supported, server speaks %s", v, contracts.ProtocolVersion))
	}
	return nil
}

// VersionMiddleware advertises the server version and rejects incompatible clients.
func VersionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(contracts.HeaderVersion, contracts.ProtocolVersion)
		if err := CheckVersion(r.Header.Get(contracts.HeaderVersion)); err != nil {
			WriteError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
