package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// requireManagementKey guards the v1 group. With no key configured the
// routes stay open for local tooling.
func (s *Server) requireManagementKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		configured := strings.TrimSpace(s.deps.Config().ManagementKey)
		if configured == "" {
			c.Next()
			return
		}
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || !matchManagementKey(configured, token) {
			writeError(c, http.StatusUnauthorized, "unauthorized", "missing or invalid management key")
			c.Abort()
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// matchManagementKey accepts either a bcrypt hash ($2 prefix) or a
// plaintext key in the configuration.
func matchManagementKey(configured, presented string) bool {
	if strings.HasPrefix(configured, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}
