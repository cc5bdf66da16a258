package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hiamp/hq/internal/codec"
	"github.com/hiamp/hq/internal/sender"
)

func newSendCmd() *cobra.Command {
	var req sender.Request

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message to a peer worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			result, err := engine.Send(context.Background(), req)
			if err != nil {
				return err
			}
			fmt.Printf("Sent %s (thread %s, channel %s)\n", result.MessageID, result.Thread, result.ChannelID)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.To, "to", "", "target address (owner/worker)")
	cmd.Flags().StringVar(&req.Intent, "intent", "", "message intent")
	cmd.Flags().StringVar(&req.Body, "body", "", "message body")
	cmd.Flags().StringVar(&req.From, "from", "", "full from address (overrides --worker)")
	cmd.Flags().StringVar(&req.Worker, "worker", "", "local worker id")
	cmd.Flags().StringVar(&req.Thread, "thread", "", "existing thread id")
	cmd.Flags().StringVar(&req.Priority, "priority", "", "low | normal | high | urgent")
	cmd.Flags().StringVar(&req.Ack, "ack", "", "none | optional | requested")
	cmd.Flags().StringVar(&req.Context, "context", "", "context tag for channel resolution")
	cmd.Flags().StringVar(&req.Ref, "ref", "", "external reference")
	cmd.Flags().StringVar(&req.ChannelID, "channel-id", "", "explicit channel, skips resolution")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("intent")
	cmd.MarkFlagRequired("body")
	return cmd
}

func newShareCmd() *cobra.Command {
	var req sender.Request
	var files string

	cmd := &cobra.Command{
		Use:   "share",
		Short: "Send a message with inline file attachments",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			for _, path := range strings.Split(files, ",") {
				path = strings.TrimSpace(path)
				if path == "" {
					continue
				}
				content, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("cannot read attachment %s: %w", path, err)
				}
				req.Attachments = append(req.Attachments, sender.Attachment{
					Name:    filepath.Base(path),
					Content: string(content),
				})
			}
			req.Intent = codec.IntentShare

			result, err := engine.Send(context.Background(), req)
			if err != nil {
				return err
			}
			fmt.Printf("Shared %d files in %s (thread %s)\n", len(req.Attachments), result.MessageID, result.Thread)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.To, "to", "", "target address (owner/worker)")
	cmd.Flags().StringVar(&files, "files", "", "comma-separated attachment paths")
	cmd.Flags().StringVar(&req.Body, "body", "", "message body")
	cmd.Flags().StringVar(&req.Worker, "worker", "", "local worker id")
	cmd.Flags().StringVar(&req.Thread, "thread", "", "existing thread id")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("files")
	cmd.MarkFlagRequired("body")
	return cmd
}
