package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	roomly "github.com/roomly-app/roomly/sdk/golang"
	"github.com/spf13/cobra"
)

var (
	watchConversations []string
	watchInvoices      []string
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringSliceVarP(&watchConversations, "conversation", "c", nil, "Conversation to follow (repeatable)")
	watchCmd.Flags().StringSliceVarP(&watchInvoices, "invoice", "i", nil, "Invoice to follow (repeatable)")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live messages, payments and notifications",
	Long: "Connect the push channel and print events as they arrive. When the channel\n" +
		"is unavailable, events are polled until it comes back. Stop with Ctrl+C.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withSession(func(s *settings, session *roomly.Session) error {
			bookings := session.Bookings()
			bookings.OnNotification(printNotification)

			scope := session.NewScope()
			defer scope.Release()

			chat := session.Chat()
			for _, id := range watchConversations {
				if err := chat.Restore(id); err != nil {
					return err
				}
				if _, err := scope.Subscribe(roomly.ConversationTopic(id), func(env roomly.Envelope) {
					chat.HandlePush(env)
					printPushedMessage(env)
				}); err != nil {
					return err
				}
			}
			for _, id := range watchInvoices {
				if _, err := bookings.Watch(scope, id); err != nil {
					return err
				}
			}

			session.Channel().OnStateChange(func(state roomly.ConnectionState, cause error) {
				if cause != nil {
					fmt.Fprintf(os.Stderr, "%s %s (%v)\n", warning("channel"), state, cause)
					return
				}
				fmt.Fprintf(os.Stderr, "%s %s\n", success("channel"), state)
			})

			if err := session.Activate(ctx, s.creds); err != nil {
				fmt.Fprintf(os.Stderr, "%s %v, polling for updates\n", warning("push unavailable:"), err)
			}
			reconnectUntilDone(ctx, session)
			return nil
		})
	},
}

// reconnectUntilDone retries a lost channel every minute until ctx ends.
func reconnectUntilDone(ctx context.Context, session *roomly.Session) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if session.Channel().IsConnected() {
				continue
			}
			if err := session.Reconnect(ctx); err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", warning("reconnect failed:"), err)
			}
		}
	}
}

func printPushedMessage(env roomly.Envelope) {
	m, err := roomly.NormalizeMessage(env.Payload)
	if err != nil {
		return
	}
	if jsonOutput {
		_ = printJSON(m)
		return
	}
	fmt.Printf("[%s] %s: %s\n", formatTime(m.CreatedAt), m.SenderRef, m.Content)
}

func printNotification(n roomly.Notification) {
	if jsonOutput {
		_ = printJSON(n)
		return
	}
	label := string(n.Kind)
	switch n.Kind {
	case roomly.NotifyPaymentSucceeded, roomly.NotifyRefundConfirmed:
		label = success(label)
	case roomly.NotifyPaymentFailed:
		label = failure(label)
	}
	fmt.Printf("[%s] %s booking=%s %s\n", formatTime(n.At), label, valueOrDefault(n.BookingID, "-"), n.Message)
}
