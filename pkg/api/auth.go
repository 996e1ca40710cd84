package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/telekom/sla-escalation/pkg/config"
	"github.com/telekom/sla-escalation/pkg/system"
)

const (
	AuthHeaderKey = "Authorization"
)

type AuthHandler struct {
	jwks     *keyfunc.JWKS
	issuer   string
	audience string
	log      *zap.SugaredLogger
}

// NewAuth fetches the signing keys from cfg.JWKSURL and keeps them refreshed
// in the background.
func NewAuth(log *zap.SugaredLogger, cfg config.Auth) (*AuthHandler, error) {
	options := keyfunc.Options{
		RefreshInterval: time.Hour,
		RefreshTimeout:  time.Second * 10,
		RefreshErrorHandler: func(err error) {
			log.Errorf("failed to refresh JWKS configuration: %v", err)
		},
		// keys rotated since the last fetch are picked up on first use
		RefreshUnknownKID: true,
	}

	jwks, err := keyfunc.Get(cfg.JWKSURL, options)
	if err != nil {
		return nil, fmt.Errorf("could not get JWKS from %s: %w", cfg.JWKSURL, err)
	}

	return &AuthHandler{
		jwks:     jwks,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		log:      log,
	}, nil
}

// Close stops the background JWKS refresh.
func (a *AuthHandler) Close() {
	if a != nil && a.jwks != nil {
		a.jwks.EndBackground()
	}
}

func (a *AuthHandler) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		authHeader := c.GetHeader(AuthHeaderKey)
		// delete the header to avoid logging it by accident
		c.Request.Header.Del(AuthHeaderKey)
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "No Bearer token provided in Authorization header",
			})
			return
		}
		bearer := authHeader[7:]

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(bearer, &claims, a.jwks.Keyfunc)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			return
		}

		if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token issuer not accepted"})
			return
		}
		if a.audience != "" && !claims.VerifyAudience(a.audience, true) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token audience not accepted"})
			return
		}

		c.Set("token", token)
		c.Set(system.UserIDKey, stringClaim(claims, "sub"))
		c.Set(system.EmailKey, stringClaim(claims, "email"))
		c.Set(system.UsernameKey, stringClaim(claims, "preferred_username"))
		if groups := groupsClaim(claims); len(groups) > 0 {
			c.Set(system.GroupsKey, groups)
		} else if a.log != nil {
			a.log.Debugw("JWT parsed but no groups claim found", "sub", claims["sub"])
		}

		c.Next()
	}
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// groupsClaim reads the groups claim, falling back to Keycloak realm roles.
// Group paths are reduced to their last segment and de-duplicated.
func groupsClaim(claims jwt.MapClaims) []string {
	var raw []interface{}
	if g, ok := claims["groups"].([]interface{}); ok {
		raw = g
	} else if realm, ok := claims["realm_access"].(map[string]interface{}); ok {
		raw, _ = realm["roles"].([]interface{})
	}

	seen := make(map[string]struct{}, len(raw))
	groups := make([]string, 0, len(raw))
	for _, v := range raw {
		g, _ := v.(string)
		g = strings.Trim(strings.TrimSpace(g), "/")
		if idx := strings.LastIndex(g, "/"); idx != -1 {
			g = g[idx+1:]
		}
		if g == "" {
			continue
		}
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		groups = append(groups, g)
	}
	return groups
}
