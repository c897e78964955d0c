package cmd

import (
	"fmt"

	"chatsave/internal/store"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(categoriesCmd)
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List session categories",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%-14s %s\n", "KEY", "NAME")
		fmt.Println("──────────────────────────")
		for _, c := range store.Categories() {
			fmt.Printf("%-14s %s\n", c, c.DisplayName())
		}
	},
}
