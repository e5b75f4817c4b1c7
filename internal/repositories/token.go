package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/shared"
	"golang.org/x/oauth2"
)

// TokenRepository is the sqlite-backed token vault. It stores one oauth2
// token per (user, provider) and refreshes expired tokens through the
// provider's oauth2 endpoint when a refresh token is available.
type TokenRepository struct {
	db      *sql.DB
	configs map[string]*oauth2.Config
}

// NewTokenRepository creates a new TokenRepository. The configs map provides
// the oauth2 endpoint per provider name, used for refreshing expired tokens.
func NewTokenRepository(db *sql.DB, configs map[string]*oauth2.Config) *TokenRepository {
	if configs == nil {
		configs = map[string]*oauth2.Config{}
	}
	return &TokenRepository{db: db, configs: configs}
}

// Save upserts the token stored for (user, provider).
func (r *TokenRepository) Save(userID, provider string, token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("%w: empty token", shared.ErrInvalidInput)
	}

	now := time.Now().UTC()
	var expiresAt any
	if !token.Expiry.IsZero() {
		expiresAt = token.Expiry.UTC()
	}

	query := `
		INSERT INTO tokens (id, user_id, provider, access_token, refresh_token, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	_, err := r.db.Exec(query,
		shared.GenerateID(),
		userID,
		provider,
		token.AccessToken,
		token.RefreshToken,
		expiresAt,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	return nil
}

// Get retrieves the stored token for (user, provider).
func (r *TokenRepository) Get(userID, provider string) (*oauth2.Token, error) {
	query := `
		SELECT access_token, refresh_token, expires_at
		FROM tokens
		WHERE user_id = ? AND provider = ?
	`

	var accessToken string
	var refreshToken sql.NullString
	var expiresAt sql.NullTime

	err := r.db.QueryRow(query, userID, provider).Scan(&accessToken, &refreshToken, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no token for %s/%s", shared.ErrMissingCredentials, userID, provider)
		}
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	token := &oauth2.Token{AccessToken: accessToken}
	if refreshToken.Valid {
		token.RefreshToken = refreshToken.String
	}
	if expiresAt.Valid {
		token.Expiry = expiresAt.Time
	}

	return token, nil
}

// GetValidToken returns an unexpired access token for (user, provider),
// refreshing through the provider's oauth2 endpoint if needed. Returns
// [shared.ErrReauthorizationRequired] when no usable credential exists.
func (r *TokenRepository) GetValidToken(ctx context.Context, userID, provider string) (string, error) {
	token, err := r.Get(userID, provider)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrReauthorizationRequired, err)
	}

	if token.Valid() {
		return token.AccessToken, nil
	}

	config, ok := r.configs[provider]
	if !ok || token.RefreshToken == "" {
		return "", fmt.Errorf("%w: %s token expired and cannot be refreshed", shared.ErrReauthorizationRequired, provider)
	}

	refreshed, err := config.TokenSource(ctx, token).Token()
	if err != nil {
		return "", fmt.Errorf("%w: refresh failed: %v", shared.ErrReauthorizationRequired, err)
	}

	if err := r.Save(userID, provider, refreshed); err != nil {
		return "", err
	}

	return refreshed.AccessToken, nil
}
