package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mohammad-safakhou/omegarag/config"
	"github.com/mohammad-safakhou/omegarag/internal/chatclient"
	"github.com/spf13/cobra"
)

func chatCMD(cfgPath *string) *cobra.Command {
	var (
		baseURL string
		timeout time.Duration
	)
	var chat = &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				cfg, err := config.Load(*cfgPath)
				if err != nil {
					return err
				}
				baseURL = localURL(cfg.Server.Address)
			}
			r, err := chatclient.NewRenderer(100, false)
			if err != nil {
				return err
			}
			api := chatclient.NewHTTPAPI(baseURL, timeout)
			return chatclient.Run(cmd.Context(), chatclient.NewSession(), api, r, cmd.OutOrStdout(), historyPath())
		},
	}
	chat.Flags().StringVar(&baseURL, "url", "", "server base URL (default derived from server.address)")
	chat.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "per-request timeout")
	return chat
}

func localURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".omegarag_history")
}
