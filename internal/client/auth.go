package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoExpiry indicates a token without an exp claim.
var ErrNoExpiry = errors.New("token has no expiry")

// Register creates a new account.
func (c *Client) Register(ctx context.Context, input RegisterInput) (*User, error) {
	if strings.TrimSpace(input.Email) == "" || input.Password == "" {
		return nil, errors.New("email and password are required")
	}
	var user User
	if err := c.doJSON(ctx, OpAuth, http.MethodPost, "/api/auth/register", nil, input, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login exchanges credentials for a bearer token. The token is also installed
// on the client for subsequent requests.
func (c *Client) Login(ctx context.Context, email, password string) (*Token, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, errors.New("email and password are required")
	}

	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	var token Token
	err := c.do(ctx, request{
		op:          OpAuth,
		method:      http.MethodPost,
		path:        "/api/auth/login",
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}, &token)
	if err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, errors.New("login response carried no access token")
	}

	c.SetToken(token.AccessToken)
	return &token, nil
}

// Me returns the account the current token belongs to.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.doJSON(ctx, OpAuth, http.MethodGet, "/api/auth/me", nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// The signing key lives with the auth service; this is only used to warn about
// sessions that have already expired.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("read exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, ErrNoExpiry
	}
	return exp.Time, nil
}
