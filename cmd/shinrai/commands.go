package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/shinrai"
	"github.com/ashita-ai/shinrai/internal/auth"
	"github.com/ashita-ai/shinrai/internal/config"
	"github.com/ashita-ai/shinrai/internal/model"
)

func serveCmd(g *globalFlags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the scheduled loops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := g.logger(os.Stdout)
			opts := []shinrai.Option{shinrai.WithLogger(logger), shinrai.WithVersion(version)}
			if port != 0 {
				opts = append(opts, shinrai.WithPort(port))
			}
			app, err := shinrai.New(cmd.Context(), opts...)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides SHINRAI_PORT)")
	return cmd
}

// oneShot builds an App without the HTTP surface, runs fn and closes it.
func oneShot(cmd *cobra.Command, g *globalFlags, fn func(*shinrai.App) (any, error)) error {
	app, err := shinrai.New(cmd.Context(),
		shinrai.WithLogger(g.logger(cmd.ErrOrStderr())),
		shinrai.WithVersion(version),
		shinrai.WithoutHTTP(),
	)
	if err != nil {
		return err
	}
	defer app.Close()

	out, err := fn(app)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func detectCmd(g *globalFlags) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run the flag detectors",
		Long: `Runs every detector and records the flags they raise. With --category
only that detector runs and its findings are printed without being recorded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if category != "" && !model.IsDetectorCategory(model.FlagCategory(category)) {
				return fmt.Errorf("unknown detector %q (want one of %v)", category, model.DetectorCategories)
			}
			return oneShot(cmd, g, func(app *shinrai.App) (any, error) {
				if category == "" {
					return app.Detect(cmd.Context())
				}
				results, err := app.DetectOne(cmd.Context(), model.FlagCategory(category))
				if err != nil {
					return nil, err
				}
				if results == nil {
					results = []model.DetectionResult{}
				}
				return model.DetectorRunResponse{
					Category: model.FlagCategory(category),
					Results:  results,
					Count:    len(results),
				}, nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "run only this detector")
	return cmd
}

func recalculateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "recalculate",
		Short: "Rescore every person, then every organization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return oneShot(cmd, g, func(app *shinrai.App) (any, error) {
				return app.Recalculate(cmd.Context())
			})
		},
	}
}

func publishCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Publish preview scores whose window has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return oneShot(cmd, g, func(app *shinrai.App) (any, error) {
				n, err := app.Publish(cmd.Context())
				if err != nil {
					return nil, err
				}
				return model.PublishResponse{Published: n}, nil
			})
		},
	}
}

func migrateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// New applies the embedded migrations.
			return oneShot(cmd, g, func(*shinrai.App) (any, error) { return nil, nil })
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		name    string
		role    string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with the configured key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTPrivateKeyPath == "" || cfg.JWTPublicKeyPath == "" {
				return errors.New("SHINRAI_JWT_PRIVATE_KEY and SHINRAI_JWT_PUBLIC_KEY must be set; run `shinrai keygen` first")
			}
			userID := uuid.New()
			if subject != "" {
				if userID, err = uuid.Parse(subject); err != nil {
					return fmt.Errorf("invalid --subject: %w", err)
				}
			}
			mgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration, slog.Default())
			if err != nil {
				return err
			}
			token, expiresAt, err := mgr.IssueToken(userID, name, model.Role(role))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"token":      token,
				"subject":    userID,
				"role":       role,
				"expires_at": expiresAt,
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "user id (default: random)")
	cmd.Flags().StringVar(&name, "name", "", "display name carried in the token")
	cmd.Flags().StringVar(&role, "role", string(model.RoleReader), "admin or reader")
	return cmd
}

func keygenCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the Ed25519 key pair used to sign tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			privPath, pubPath, err := auth.WriteKeyPair(dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "wrote %s\nwrote %s\n", privPath, pubPath)
			_, _ = fmt.Fprintf(out, "set SHINRAI_JWT_PRIVATE_KEY=%s and SHINRAI_JWT_PUBLIC_KEY=%s\n", privPath, pubPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "data", "directory for the PEM files")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "shinrai", version)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
