package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bulkimport/bulkimport/internal/api/models"
)

// OperatorHeader names the operator starting or driving an import.
const OperatorHeader = "X-Operator"

// operatorKey is the context key for the operator name.
type operatorKey struct{}

// OperatorConfig configures the Operator middleware.
type OperatorConfig struct {
	// Token is the shared bearer token of the API. Empty disables the check.
	Token string
	// SigningKey switches to signed operator tokens: the bearer token must
	// be an HS256 JWT and its subject is the operator. X-Operator is then
	// ignored and Token is not consulted.
	SigningKey string
	// Issuer and Audience are checked on signed tokens when set.
	Issuer   string
	Audience string
	// Anonymous is the operator name used when no header is sent.
	// Default: "anonymous"
	Anonymous string
}

// Operator authenticates the caller and stores the operator name in the
// request context. With a signing key the operator is the subject of the
// bearer JWT. Otherwise the shared token is checked, when configured, and the
// operator is named by the X-Operator header.
func Operator(cfg OperatorConfig) func(http.Handler) http.Handler {
	anonymous := cfg.Anonymous
	if anonymous == "" {
		anonymous = "anonymous"
	}
	var parser *jwt.Parser
	if cfg.SigningKey != "" {
		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired()}
		if cfg.Issuer != "" {
			opts = append(opts, jwt.WithIssuer(cfg.Issuer))
		}
		if cfg.Audience != "" {
			opts = append(opts, jwt.WithAudience(cfg.Audience))
		}
		parser = jwt.NewParser(opts...)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var operator string
			switch {
			case parser != nil:
				token, ok := bearerToken(r.Header.Get("Authorization"))
				if !ok {
					writeUnauthorized(w, r, "missing or malformed bearer token")
					return
				}
				sub, err := operatorSubject(parser, []byte(cfg.SigningKey), token)
				if err != nil {
					writeUnauthorized(w, r, err.Error())
					return
				}
				operator = sub
			case cfg.Token != "":
				token, ok := bearerToken(r.Header.Get("Authorization"))
				if !ok {
					writeUnauthorized(w, r, "missing or malformed bearer token")
					return
				}
				if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Token)) != 1 {
					writeUnauthorized(w, r, "invalid bearer token")
					return
				}
				fallthrough
			default:
				operator = strings.TrimSpace(r.Header.Get(OperatorHeader))
				if operator == "" {
					operator = anonymous
				}
			}

			ctx := context.WithValue(r.Context(), operatorKey{}, operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// operatorSubject verifies a signed operator token and returns its subject.
func operatorSubject(parser *jwt.Parser, key []byte, raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.New("operator token has expired")
		}
		return "", errors.New("invalid operator token")
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", errors.New("operator token has no subject")
	}
	return sub, nil
}

// bearerToken extracts the token of a "Bearer <token>" header. The scheme
// is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// writeUnauthorized writes a 401 Unauthorized response.
// This is implemented directly here to avoid import cycle with response package.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	traceID := GetRequestID(r.Context())
	problem := models.NewUnauthorized(traceID, detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// GetOperator retrieves the operator name from the context.
// Returns an empty string outside the Operator middleware.
func GetOperator(ctx context.Context) string {
	if op, ok := ctx.Value(operatorKey{}).(string); ok {
		return op
	}
	return ""
}
