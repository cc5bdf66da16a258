package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hiamp/hq/internal/inbox"
)

// engineInboxes is the slice of the engine the inbox scan needs.
type engineInboxes interface {
	InboxWorkers() ([]string, error)
	Inbox(worker string, includeRead bool) ([]inbox.Entry, error)
}

func newInboxCmd() *cobra.Command {
	var worker string
	var all bool

	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List received messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			workers := []string{worker}
			if worker == "" {
				workers, err = engine.InboxWorkers()
				if err != nil {
					return err
				}
			}

			total := 0
			for _, w := range workers {
				entries, err := engine.Inbox(w, all)
				if err != nil {
					return err
				}
				for _, e := range entries {
					marker := "*"
					if e.Read {
						marker = " "
					}
					fmt.Printf("%s %s  %-22s %-12s %s  %s\n",
						marker, e.Message.ID, e.Message.From, e.Message.Intent, e.ReceivedAt, firstLine(e.Message.Body))
				}
				total += len(entries)
			}
			if total == 0 {
				fmt.Println("Inbox is empty.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&worker, "worker", "", "limit to one worker's inbox")
	cmd.Flags().BoolVar(&all, "all", false, "include read messages")
	return cmd
}

func newReplyCmd() *cobra.Command {
	var worker, msgID, body, ack string

	cmd := &cobra.Command{
		Use:   "reply",
		Short: "Reply to a received message in its thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if worker == "" {
				worker, err = findInboxWorker(engine, msgID)
				if err != nil {
					return err
				}
			}
			result, err := engine.Reply(context.Background(), worker, msgID, body, ack)
			if err != nil {
				return err
			}
			fmt.Printf("Replied %s (thread %s)\n", result.MessageID, result.Thread)
			return nil
		},
	}

	cmd.Flags().StringVar(&msgID, "message-id", "", "inbox message to reply to")
	cmd.Flags().StringVar(&body, "body", "", "reply body")
	cmd.Flags().StringVar(&worker, "worker", "", "inbox worker (located automatically when omitted)")
	cmd.Flags().StringVar(&ack, "ack", "", "none | optional | requested")
	cmd.MarkFlagRequired("message-id")
	cmd.MarkFlagRequired("body")
	return cmd
}

func newThreadCmd() *cobra.Command {
	var threadID string

	cmd := &cobra.Command{
		Use:   "thread",
		Short: "Print a thread's message log",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			state, err := engine.Thread(threadID)
			if err != nil {
				return err
			}
			fmt.Printf("Thread %s (%s), participants: %v\n", state.ID, state.Status, state.Participants)
			for _, m := range state.Messages {
				fmt.Printf("\n[%s] %s  %s -> %s  (%s)\n%s\n", m.Timestamp, m.ID, m.From, m.To, m.Intent, m.Body)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&threadID, "thread-id", "", "thread to print")
	cmd.MarkFlagRequired("thread-id")
	return cmd
}

// findInboxWorker scans worker inboxes for a message id.
func findInboxWorker(engine engineInboxes, msgID string) (string, error) {
	workers, err := engine.InboxWorkers()
	if err != nil {
		return "", err
	}
	for _, w := range workers {
		entries, err := engine.Inbox(w, true)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.Message.ID == msgID {
				return w, nil
			}
		}
	}
	return "", fmt.Errorf("message %s not found in any inbox", msgID)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
