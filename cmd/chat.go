package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"chatsave/internal/chat"
	"chatsave/internal/store"
	"chatsave/internal/transcript"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(chatCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <session-id> \"your message\"",
	Short: "Send one message and wait for the reply",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		_, sess, err := loadSession(cmd.Context(), st, args[0])
		if err != nil {
			return err
		}

		tl := chat.Open(cmd.Context(), st, sess.ID, chatOptions()...)
		defer tl.Close()

		before := len(tl.Messages())
		if _, err := tl.Send(cmd.Context(), strings.Join(args[1:], " ")); err != nil {
			return err
		}
		tl.Wait()

		loc, _ := cfg.Location()
		for _, m := range tl.Messages()[before:] {
			fmt.Println(transcript.FormatMessage(m, 0, loc))
		}
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <session-id>",
	Short: "Chat interactively in a session (Ctrl-D to leave)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		_, sess, err := loadSession(cmd.Context(), st, args[0])
		if err != nil {
			return err
		}

		tl := chat.Open(cmd.Context(), st, sess.ID, chatOptions()...)
		// Leaving drops any reply that has not arrived yet.
		defer tl.Close()

		loc, _ := cfg.Location()
		fmt.Printf("── %s (%s) ──\n", sess.Title, sess.Category.DisplayName())
		for _, m := range tl.Messages() {
			fmt.Println(transcript.FormatMessage(m, 0, loc))
		}

		unsubscribe := tl.Subscribe(func(msgs []store.Message) {
			if last := msgs[len(msgs)-1]; !last.IsFromUser {
				fmt.Println(transcript.FormatMessage(last, 0, loc))
			}
		})
		defer unsubscribe()

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			_, err := tl.Send(cmd.Context(), scanner.Text())
			if errors.Is(err, chat.ErrEmptyContent) {
				continue
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
		}
		return scanner.Err()
	},
}
