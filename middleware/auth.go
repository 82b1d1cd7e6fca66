package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/usageboard/utils"
)

const (
	// ContextUserIDKey is the key used to store the authenticated user id in Gin context.
	ContextUserIDKey = "user_id"
)

// IdentityResolver maps an opaque bearer credential to a user id.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (string, error)
}

// AuthRequired ensures the request carries a credential the resolver accepts.
func AuthRequired(resolver IdentityResolver) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		if authHeader == "" {
			utils.Error(ctx, http.StatusUnauthorized, utils.CodeCredentialMissing, "authorization header missing")
			ctx.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			utils.Error(ctx, http.StatusUnauthorized, utils.CodeCredentialFormat, "invalid authorization header format")
			ctx.Abort()
			return
		}

		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			utils.Error(ctx, http.StatusUnauthorized, utils.CodeCredentialEmpty, "empty bearer token")
			ctx.Abort()
			return
		}

		userID, err := resolver.Resolve(ctx.Request.Context(), tokenString)
		if err != nil {
			if errors.Is(err, utils.ErrRevokedCredential) {
				utils.Error(ctx, http.StatusUnauthorized, utils.CodeCredentialRevoked, "token revoked")
			} else {
				utils.Error(ctx, http.StatusUnauthorized, utils.CodeCredentialInvalid, "invalid token")
			}
			ctx.Abort()
			return
		}

		ctx.Set(ContextUserIDKey, userID)
		ctx.Next()
	}
}

// UserID returns the authenticated user id set by AuthRequired.
func UserID(ctx *gin.Context) (string, bool) {
	id := ctx.GetString(ContextUserIDKey)
	return id, id != ""
}
