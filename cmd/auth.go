package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// AuthSave stores provider tokens in the vault.
func (r *Runner) AuthSave(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")
	provider := cmd.String("provider")
	accessToken := cmd.String("access-token")
	refreshToken := cmd.String("refresh-token")
	expiresIn := cmd.Int("expires-in")

	d, err := r.connect("")
	if err != nil {
		return err
	}
	defer d.Close()

	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Duration(expiresIn) * time.Second),
	}

	if err := d.vault.Save(userID, provider, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	r.logger.Info("token saved", "user", userID, "provider", provider)
	r.writePlain("✓ Token stored for %s on %s\n", userID, provider)
	if refreshToken == "" {
		r.writePlain("No refresh token provided; re-run auth save when the access token expires\n")
	}
	return nil
}

// AuthStatus checks whether a usable token exists for the user.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")
	provider := cmd.String("provider")

	d, err := r.connect("")
	if err != nil {
		return err
	}
	defer d.Close()

	_, err = d.vault.GetValidToken(ctx, userID, provider)
	switch {
	case err == nil:
		r.writePlain("✓ Valid token available for %s on %s\n", userID, provider)
		return nil
	case errors.Is(err, shared.ErrReauthorizationRequired):
		r.writePlain("✗ Token expired and cannot be refreshed; run 'ndh auth save'\n")
		return nil
	case errors.Is(err, shared.ErrMissingCredentials):
		r.writePlain("✗ No token stored for %s on %s\n", userID, provider)
		return nil
	default:
		return err
	}
}
