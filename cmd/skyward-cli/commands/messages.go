package commands

import (
	"fmt"

	"skyassist-backend/services/skyward"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var (
	messagesLimit int
	messagesMore  string
	messagesFull  bool
)

func init() {
	messagesCmd.Flags().IntVar(&messagesLimit, "limit", 0, "Stop paging once this many messages are loaded.")
	messagesCmd.Flags().StringVar(&messagesMore, "more", "", "Continue paging after this message row id.")
	messagesCmd.Flags().BoolVar(&messagesFull, "full", false, "Print the full message content.")
	rootCmd.AddCommand(messagesCmd)
}

var messagesCmd = &cobra.Command{
	Use:   "messages [--limit <n>] [--more <last_id>]",
	Short: "Prints the messages on the portal home page.",
	RunE: func(cmd *cobra.Command, args []string) error {
		runtime := openRuntime()
		defer runtime.Close()

		var page skyward.MessagePage
		var err error
		if messagesMore != "" {
			page, err = unwrap(runtime.Service.LoadMoreMessages(cmd.Context(), messagesMore, messagesLimit))
		} else {
			page, err = unwrap(runtime.Service.LoadMessages(cmd.Context()))
		}
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"Id", "Date", "Class", "From", "Subject", "Content"})
		for _, m := range page.Messages {
			from := ""
			if m.From != nil {
				from = *m.From
			}
			content := m.Content
			if !messagesFull {
				content = text.Trim(content, 60)
			}
			t.AppendRow(table.Row{m.MessageRowId, m.Date, m.ClassName, from, m.Subject, content})
		}
		t.Render()

		if page.LastMessageRowId != "" {
			fmt.Printf("more: --more %s\n", page.LastMessageRowId)
		}
		return nil
	},
}
