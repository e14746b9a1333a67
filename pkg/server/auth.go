/*
 * iptv-gateway is a project to aggregate IPTV sources and share upstream streams between clients.
 * Copyright (C) 2025  Lucas Duport
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/lucasduport/iptv-gateway/pkg/auth"
	"github.com/lucasduport/iptv-gateway/pkg/types"
	"github.com/lucasduport/iptv-gateway/pkg/utils"
	"golang.org/x/time/rate"
)

const ctxUserKey = "user"

var internalAPIKey string

func init() {
	// Generate a random API key at startup or use from environment
	envKey := os.Getenv("INTERNAL_API_KEY")
	if envKey != "" {
		internalAPIKey = envKey
		utils.InfoLog("Using internal API key from environment")
	} else {
		internalAPIKey = uuid.New().String()
		utils.InfoLog("Generated new internal API key: %s", internalAPIKey)
	}
}

// GetAPIKey returns the key protecting the /api group.
func GetAPIKey() string {
	return internalAPIKey
}

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errAccountDisabled    = errors.New("account disabled")
	errAccountExpired     = errors.New("account expired")
)

// authRequest carries credentials supplied as query or form parameters.
type authRequest struct {
	Username string `form:"username" binding:"required"`
	Password string `form:"password" binding:"required"`
}

// authFailLimiter slows down credential guessing. Tokens are only consumed
// on failed attempts, so legitimate players never hit it.
type authFailLimiter struct {
	mu    sync.Mutex
	perIP map[string]*rate.Limiter
}

func newAuthFailLimiter() *authFailLimiter {
	return &authFailLimiter{perIP: make(map[string]*rate.Limiter)}
}

// fail records a failed attempt for ip and reports whether the caller may
// still be answered with 401; false means answer 429.
func (l *authFailLimiter) fail(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.perIP) > 4096 {
		l.perIP = make(map[string]*rate.Limiter)
	}
	lim, ok := l.perIP[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Every(2*time.Second), 5)
		l.perIP[ip] = lim
	}
	return lim.Allow()
}

// lookupUser validates credentials and returns the account. With LDAP
// enabled the password is checked against the directory and the catalog
// row only supplies playlists and limits; otherwise the scrypt hash in the
// users table decides. The configured fallback account lets a fresh
// install stream before any users exist.
func (s *Server) lookupUser(username, password string) (*types.User, error) {
	if s.LDAPEnabled {
		ok := ldapAuthenticate(
			s.LDAPServer,
			s.LDAPBaseDN,
			s.LDAPBindDN,
			s.LDAPBindPassword,
			s.LDAPUserAttribute,
			s.LDAPGroupAttribute,
			s.LDAPRequiredGroup,
			username,
			password,
		)
		if !ok {
			return nil, errInvalidCredentials
		}
		u, err := s.store.GetUserByUsername(username)
		if errors.Is(err, types.ErrNotFound) {
			// Directory user without a catalog row: no playlists, no caps.
			return &types.User{Username: username, Active: true}, nil
		}
		if err != nil {
			return nil, err
		}
		return u, checkAccount(u)
	}

	u, err := s.store.GetUserByUsername(username)
	if errors.Is(err, types.ErrNotFound) {
		if s.User.String() != "" && username == s.User.String() && password == s.Password.String() {
			utils.DebugLog("Fallback account authenticated: %s", username)
			return &types.User{Username: username, Active: true}, nil
		}
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.VerifyPassword(u.PasswordHash, password) {
		return nil, errInvalidCredentials
	}
	return u, checkAccount(u)
}

func checkAccount(u *types.User) error {
	if !u.Active {
		return errAccountDisabled
	}
	if u.Expired(time.Now()) {
		return errAccountExpired
	}
	return nil
}

// pathCredentials authenticates the :username/:password route parameters.
func (s *Server) pathCredentials() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		username := ctx.Param("username")
		user, err := s.lookupUser(username, ctx.Param("password"))
		if err != nil {
			utils.DebugLog("Path credentials rejected for user %s: %v", username, err)
			s.abortAuth(ctx, err)
			return
		}
		ctx.Set(ctxUserKey, user)
		ctx.Next()
	}
}

// optionalQueryCredentials authenticates ?username=&password= when present
// and lets the request through anonymously otherwise.
func (s *Server) optionalQueryCredentials() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		username := ctx.Query("username")
		if username == "" {
			ctx.Next()
			return
		}
		user, err := s.lookupUser(username, ctx.Query("password"))
		if err != nil {
			utils.DebugLog("Query credentials rejected for user %s: %v", username, err)
			s.abortAuth(ctx, err)
			return
		}
		ctx.Set(ctxUserKey, user)
		ctx.Next()
	}
}

// currentUser returns the authenticated account, nil for anonymous requests.
func currentUser(ctx *gin.Context) *types.User {
	if v, ok := ctx.Get(ctxUserKey); ok {
		if u, ok := v.(*types.User); ok {
			return u
		}
	}
	return nil
}

func (s *Server) abortAuth(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidCredentials):
		if !s.failLimiter.fail(ctx.ClientIP()) {
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, types.APIResponse{
				Success: false,
				Error:   "too many failed attempts",
			})
			return
		}
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, types.APIResponse{
			Success: false,
			Error:   "invalid credentials",
		})
	case errors.Is(err, errAccountDisabled), errors.Is(err, errAccountExpired):
		ctx.AbortWithStatusJSON(http.StatusForbidden, types.APIResponse{
			Success: false,
			Error:   err.Error(),
		})
	default:
		utils.ErrorLog("Authentication lookup failed: %v", err)
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, types.APIResponse{
			Success: false,
			Error:   "authentication unavailable",
		})
	}
}

// apiKeyAuth middleware validates the internal API key
func (s *Server) apiKeyAuth() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		key := ctx.GetHeader("X-API-Key")
		if key != internalAPIKey {
			utils.DebugLog("API authentication failed - invalid key: %s", utils.MaskString(key))
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, types.APIResponse{
				Success: false,
				Error:   "Invalid API key",
			})
			return
		}
		ctx.Next()
	}
}

// ldapAuthenticate binds with an optional service account, finds the user
// DN, optionally validates group membership, then attempts a user bind.
func ldapAuthenticate(server, baseDN, bindDN, bindPassword, userAttr, groupAttr, requiredGroup, username, password string) bool {
	l, err := ldap.DialURL(server)
	if err != nil {
		utils.DebugLog("LDAP DialURL error: %v", err)
		return false
	}
	defer l.Close()

	if bindDN != "" && bindPassword != "" {
		if err := l.Bind(bindDN, bindPassword); err != nil {
			utils.DebugLog("LDAP service bind error: %v", err)
			return false
		}
	}

	filter := fmt.Sprintf("(%s=%s)", userAttr, ldap.EscapeFilter(username))
	searchRequest := ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, 0, false,
		filter,
		[]string{"dn", groupAttr},
		nil,
	)
	sr, err := l.Search(searchRequest)
	if err != nil {
		utils.DebugLog("LDAP search error: %v", err)
		return false
	}
	if len(sr.Entries) == 0 {
		utils.DebugLog("LDAP search: no entries found for user: %s", username)
		return false
	}
	userDN := sr.Entries[0].DN

	if requiredGroup != "" && groupAttr != "" {
		hasGroup := false
		for _, entry := range sr.Entries {
			for _, groupValue := range entry.GetAttributeValues(groupAttr) {
				// Matches both plain values like 'iptv' and DN-style values
				// like 'cn=iptv,ou=groups,dc=example,dc=com'.
				if strings.Contains(strings.ToLower(groupValue), strings.ToLower(requiredGroup)) {
					hasGroup = true
					break
				}
			}
		}
		if !hasGroup {
			utils.DebugLog("LDAP user %s is not a member of required group: %s", username, requiredGroup)
			return false
		}
	}

	if err := l.Bind(userDN, password); err != nil {
		utils.DebugLog("LDAP user bind error: %v", err)
		return false
	}
	utils.DebugLog("LDAP user bind succeeded for user: %s", username)
	return true
}
