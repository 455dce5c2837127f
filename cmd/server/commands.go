package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gwi.com/chatcore/internal/auth"
	"gwi.com/chatcore/internal/ingest"
)

var (
	ingestUser  string
	ingestFile  string
	ingestLabel string

	tokenUser string
	tokenTTL  time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Embed a markdown table into a user's document library",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(app *app) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			user, err := app.store.GetUserByID(ctx, ingestUser)
			if err != nil {
				return err
			}
			if user == nil {
				return fmt.Errorf("user %s not found", ingestUser)
			}

			ingester := ingest.NewIngester(app.store, app.embedder, app.logger)
			doc, n, err := ingester.IngestFile(ctx, user.ID, ingestFile, ingestLabel)
			if err != nil {
				return fmt.Errorf("data ingestion failed: %w", err)
			}
			if doc == nil {
				app.logger.Warn("nothing ingested", zap.String("file", ingestFile))
				return nil
			}
			app.logger.Info("data ingestion complete", zap.String("documentId", doc.ID), zap.Int("chunks", n))
			return nil
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development JWT for an existing user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(app *app) error {
			user, err := app.store.GetUserByID(cmd.Context(), tokenUser)
			if err != nil {
				return err
			}
			if user == nil {
				return errors.New("user not found")
			}

			token, err := auth.GenerateJWT([]byte(app.cfg.JWTSecret), user.ID, user.Role, tokenTTL)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			fmt.Fprintln(os.Stdout, token)
			return nil
		})
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestUser, "user", "", "id of the user who owns the document")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "data.md", "markdown table to ingest")
	ingestCmd.Flags().StringVar(&ingestLabel, "label", "", "document label, defaults to the file name")
	ingestCmd.MarkFlagRequired("user")

	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "id of the user to mint a token for")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.MarkFlagRequired("user")
}
