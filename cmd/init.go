package cmd

import (
	"fmt"
	"os"

	"chatsave/internal/store"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the session database in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}

		dbFile := store.DefaultPath(dir)
		if _, err := os.Stat(dbFile); err == nil {
			fmt.Println("Already initialized — .chatsave/chatsave.db exists")
			return nil
		}

		st, err := store.New(dir)
		if err != nil {
			return fmt.Errorf("init failed: %w", err)
		}
		st.Close()

		fmt.Printf("Initialized chatsave in %s\n", dir)
		fmt.Println("Session database created at .chatsave/chatsave.db")
		return nil
	},
}
