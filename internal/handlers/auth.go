package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
	"uk.co.dudmesh.roost/internal/model"
)

const principalKey = "principal"

// Claims are issued by the marketplace's identity service.
type Claims struct {
	Email string `json:"email"`
	jwt.StandardClaims
}

func parseToken(raw string, secret []byte) (*model.User, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.Email == "" {
		return nil, fmt.Errorf("token lacks subject or email")
	}
	return &model.User{ID: model.UserID(claims.Subject), Address: model.UserAddress(claims.Email)}, nil
}

// Authenticate resolves the principal from a bearer token, or from the token
// query parameter since browsers cannot set headers on a WebSocket upgrade.
func Authenticate(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := c.QueryParam("token")
			if header := c.Request().Header.Get(echo.HeaderAuthorization); header != "" {
				scheme, token, ok := strings.Cut(header, " ")
				if !ok || !strings.EqualFold(scheme, "bearer") {
					return echo.NewHTTPError(http.StatusUnauthorized, "expected a bearer token")
				}
				raw = token
			}
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
			}

			user, err := parseToken(raw, secret)
			if err != nil {
				c.Logger().Debugf("rejecting token: %+v", err)
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			c.Set(principalKey, user)
			return next(c)
		}
	}
}

func principal(c echo.Context) model.User {
	user, _ := c.Get(principalKey).(*model.User)
	if user == nil {
		return model.User{}
	}
	return *user
}
