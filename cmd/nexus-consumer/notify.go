package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hatsunemiku3939/nexusconsumer"
	"github.com/hatsunemiku3939/nexusconsumer/internal/jsoncodec"
)

func newNotifyCmd(opts *rootOptions) *cobra.Command {
	var rawHeaders []string

	cmd := &cobra.Command{
		Use:   "notify QUEUE",
		Short: "Send a delay notification for QUEUE and print the platform's reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			headers, err := parseHeaders(rawHeaders)
			if err != nil {
				return err
			}

			logger := newLogger(cfg.Log, os.Stderr)
			notifier := nexusconsumer.NewDelayNotifier(nexusconsumer.NotifierConfigFrom(cfg.Nexus), nil, logger)

			res := notifier.NotifyOnDelay(cmd.Context(), args[0], headers)
			if err := jsoncodec.Encode(cmd.OutOrStdout(), res.Body); err != nil {
				return err
			}
			if res.Err != nil {
				return fmt.Errorf("delay notification failed: %w", res.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&rawHeaders, "header", "H", nil, "header to send as key=value (repeatable)")
	return cmd
}

func parseHeaders(raw []string) (nexusconsumer.Headers, error) {
	headers := nexusconsumer.NewHeaders()
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q, want key=value", kv)
		}
		headers.Add(key, value)
	}
	return headers, nil
}
