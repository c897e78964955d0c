package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"chatsave/internal/chat"
	"chatsave/internal/transcript"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
)

var (
	exportCopy bool
	exportOut  string
	exportMax  int
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().BoolVar(&exportCopy, "copy", false, "copy the transcript to the clipboard")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "write the transcript to a file")
	exportCmd.Flags().IntVar(&exportMax, "max", 0, "truncate messages longer than this (0 = no limit)")
}

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session transcript",
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
		text := transcript.Render(sess, tl.Messages(), transcript.Options{MaxContent: exportMax, Location: loc})

		if exportCopy {
			if err := clipboard.WriteAll(text); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not copy to clipboard: %v\n", err)
			} else {
				fmt.Printf("Transcript copied to clipboard (~%d tokens)\n", transcript.EstimateTokens(text))
			}
		}

		if exportOut != "" {
			outPath := exportOut
			if !filepath.IsAbs(outPath) {
				dir, _ := os.Getwd()
				outPath = filepath.Join(dir, outPath)
			}
			if err := os.WriteFile(outPath, []byte(text), 0644); err != nil {
				return fmt.Errorf("write file: %w", err)
			}
			fmt.Printf("Transcript written to %s\n", outPath)
		}

		if !exportCopy && exportOut == "" {
			fmt.Print(text)
		}
		return nil
	},
}
