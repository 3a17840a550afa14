package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/urfave/cli/v3"

	"line-chat-agent/internal/domain"
	"line-chat-agent/internal/repository"
)

type historyStore interface {
	Load(ctx context.Context, userID string) (domain.Conversation, error)
	Delete(ctx context.Context, userID string) error
}

type historyView struct {
	UserID  string          `json:"userId"`
	Version int64           `json:"version"`
	Records []domain.Record `json:"records"`
}

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "historyctl",
		Usage: "Inspect and clear stored chat histories",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "backend",
				Value:   "dynamodb",
				Sources: cli.EnvVars("STORE_BACKEND"),
				Usage:   "History store backend (dynamodb or sqlite)",
			},
			&cli.StringFlag{
				Name:    "table",
				Sources: cli.EnvVars("STATE_TABLE"),
				Usage:   "DynamoDB table name",
			},
			&cli.StringFlag{
				Name:    "sqlite-path",
				Value:   "chat-history.db",
				Sources: cli.EnvVars("SQLITE_PATH"),
				Usage:   "SQLite database file",
			},
		},
		Commands: []*cli.Command{
			showCommand(out),
			clearCommand(out),
		},
	}
}

func showCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print a user's stored history as JSON",
		ArgsUsage: "<user-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			userID, err := userIDArg(cmd)
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			conv, err := store.Load(ctx, userID)
			if err != nil {
				return fmt.Errorf("failed to load history: %w", err)
			}
			view := historyView{UserID: userID, Version: conv.Version, Records: conv.Records}
			if view.Records == nil {
				view.Records = []domain.Record{}
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(view)
		},
	}
}

func clearCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "clear",
		Usage:     "Delete a user's stored history",
		ArgsUsage: "<user-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			userID, err := userIDArg(cmd)
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := store.Delete(ctx, userID); err != nil {
				return fmt.Errorf("failed to clear history: %w", err)
			}
			_, err = fmt.Fprintf(out, "cleared history for %s\n", userID)
			return err
		},
	}
}

func userIDArg(cmd *cli.Command) (string, error) {
	userID := strings.TrimSpace(cmd.Args().First())
	if userID == "" {
		return "", errors.New("user id argument is required")
	}
	return userID, nil
}

func openStore(ctx context.Context, cmd *cli.Command) (historyStore, func(), error) {
	switch backend := cmd.String("backend"); backend {
	case "dynamodb":
		table := cmd.String("table")
		if table == "" {
			return nil, nil, errors.New("--table is required for the dynamodb backend")
		}
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		store, err := repository.New(awsdynamodb.NewFromConfig(cfg), table)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "sqlite":
		store, err := repository.NewSQLiteStore(cmd.String("sqlite-path"))
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}
}
