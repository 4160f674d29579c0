package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/transcoder/internal/api/middleware"
	"github.com/kiranshivaraju/transcoder/pkg/models"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

const rawKeyPrefix = "tk_"

func newKeysCommand(ctx *commandContext) *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	keysCmd.AddCommand(newKeysCreateCommand(ctx))
	return keysCmd
}

func newKeysCreateCommand(ctx *commandContext) *cobra.Command {
	var owner, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner = strings.TrimSpace(owner)
			if owner == "" {
				return fmt.Errorf("--owner is required")
			}
			if name == "" {
				name = owner
			}

			raw, err := generateRawKey()
			if err != nil {
				return err
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash key: %w", err)
			}

			st, closeFn, err := ctx.store(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			now := time.Now().UTC()
			key := &models.APIKey{
				ID:        uuid.New(),
				Owner:     owner,
				Name:      name,
				KeyHash:   string(hash),
				KeyPrefix: raw[:mw.KeyPrefixLen],
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := st.CreateAPIKey(cmd.Context(), key); err != nil {
				return fmt.Errorf("create api key: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created key %s for %s\n", key.ID, owner)
			fmt.Fprintf(out, "API key (shown once): %s\n", raw)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "Label for the key (defaults to the owner)")
	return cmd
}

// generateRawKey returns tk_ followed by 40 hex characters.
func generateRawKey() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return rawKeyPrefix + hex.EncodeToString(b), nil
}
