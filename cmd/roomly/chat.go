package main

import (
	"context"
	"fmt"
	"strings"

	roomly "github.com/roomly-app/roomly/sdk/golang"
	"github.com/spf13/cobra"
)

var (
	chatHistoryLimit int
	chatSearchLimit  int
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.AddCommand(chatSendCmd)
	chatCmd.AddCommand(chatHistoryCmd)
	chatCmd.AddCommand(chatSearchCmd)

	chatHistoryCmd.Flags().IntVarP(&chatHistoryLimit, "limit", "n", 50, "Number of messages to fetch")
	chatSearchCmd.Flags().IntVarP(&chatSearchLimit, "limit", "n", 20, "Maximum number of matches")
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Conversations with landlords and tenants",
}

var chatSendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message>",
	Short: "Send a message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(_ *settings, session *roomly.Session) error {
			chat := session.Chat()
			conversationID := args[0]
			if err := chat.Restore(conversationID); err != nil {
				return err
			}
			msg, err := chat.Send(cmd.Context(), conversationID, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(msg)
			}
			fmt.Printf("%s %s\n", success("Sent"), msg.ServerID)
			return nil
		})
	},
}

var chatHistoryCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Show the latest messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(_ *settings, session *roomly.Session) error {
			msgs, err := loadConversation(cmd.Context(), session, args[0], chatHistoryLimit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(msgs)
			}
			printMessages(msgs)
			return nil
		})
	},
}

var chatSearchCmd = &cobra.Command{
	Use:   "search <conversation-id> <text>",
	Short: "Search the messages of a conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(_ *settings, session *roomly.Session) error {
			if _, err := loadConversation(cmd.Context(), session, args[0], chatHistoryLimit); err != nil {
				return err
			}
			msgs, err := session.Chat().Search(cmd.Context(), args[0], strings.Join(args[1:], " "), chatSearchLimit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(msgs)
			}
			if len(msgs) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			printMessages(msgs)
			return nil
		})
	},
}

// loadConversation restores the local copy and fetches the latest page.
func loadConversation(ctx context.Context, session *roomly.Session, conversationID string, limit int) ([]roomly.Message, error) {
	chat := session.Chat()
	if err := chat.Restore(conversationID); err != nil {
		return nil, err
	}
	if _, err := chat.LoadHistory(ctx, conversationID, limit); err != nil {
		return nil, err
	}
	return chat.Messages(conversationID), nil
}

func printMessages(msgs []roomly.Message) {
	rows := make([][]string, 0, len(msgs))
	for _, m := range msgs {
		state := "sent"
		switch {
		case m.Failed:
			state = failure("failed")
		case !m.Confirmed:
			state = warning("sending")
		}
		rows = append(rows, []string{formatTime(m.CreatedAt), m.SenderRef, m.Content, state})
	}
	printTable([]string{"Time", "From", "Message", "State"}, rows)
}
