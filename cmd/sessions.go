package cmd

import (
	"fmt"

	"chatsave/internal/chat"
	"chatsave/internal/sessions"
	"chatsave/internal/store"
	"chatsave/internal/transcript"

	"github.com/spf13/cobra"
)

var (
	newCategory string
	newSummary  string
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(showCmd)

	newCmd.Flags().StringVar(&newCategory, "category", string(store.CategoryOther), "career, emotions, productivity or other")
	newCmd.Flags().StringVar(&newSummary, "summary", "", "optional short summary")
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions grouped by day",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ss, err := newSessionStore(st)
		if err != nil {
			return err
		}
		groups := <-ss.LoadAsync(cmd.Context())

		if len(groups) == 0 {
			fmt.Println("No sessions yet — run 'chatsave new \"topic\"' to start one")
			return nil
		}

		for _, g := range groups {
			printDay(g)
		}
		return nil
	},
}

func printDay(g sessions.DayGroup) {
	fmt.Printf("%s\n", g.Day.Format("Monday, 2 Jan 2006"))
	fmt.Println("─────────────────────────────────────────────────────────────────")
	for _, s := range g.Sessions {
		fmt.Printf("  %-36s %s  %-12s %s\n",
			s.ID,
			s.Date.In(g.Day.Location()).Format("15:04"),
			s.Category.DisplayName(),
			transcript.Truncate(s.Title, 60),
		)
		if s.Summary != "" {
			fmt.Printf("  %-36s %s\n", "", transcript.Truncate(s.Summary, 80))
		}
	}
	fmt.Println()
}

var newCmd = &cobra.Command{
	Use:   "new <title>",
	Short: "Start a new session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ss, err := newSessionStore(st)
		if err != nil {
			return err
		}
		ss.Load(cmd.Context())

		category := store.ParseCategory(newCategory)
		if string(category) != newCategory {
			fmt.Printf("Unknown category %q, using %s\n", newCategory, category.DisplayName())
		}

		sess, err := ss.Add(cmd.Context(), store.Session{
			Title:    args[0],
			Summary:  newSummary,
			Category: category,
		})
		if err != nil {
			return fmt.Errorf("save session: %w", err)
		}

		fmt.Printf("Session created → %s\n", sess.ID)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ss, sess, err := loadSession(cmd.Context(), st, args[0])
		if err != nil {
			return err
		}
		if err := ss.Delete(cmd.Context(), sess.ID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}

		fmt.Printf("Deleted %q\n", sess.Title)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session and its messages",
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
		defer tl.Close()

		loc, _ := cfg.Location()
		fmt.Print(transcript.Render(sess, tl.Messages(), transcript.Options{MaxContent: 2000, Location: loc}))
		return nil
	},
}
