package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentic-research/metromap/internal/store"
)

var favoritesFile string

func init() {
	favoritesCmd.PersistentFlags().StringVar(&favoritesFile, "file", "", "favorites file (default: user config dir)")
	favoritesCmd.AddCommand(favoritesListCmd, favoritesAddCmd, favoritesRemoveCmd)
	rootCmd.AddCommand(favoritesCmd)
}

func favoritesPath() string {
	if favoritesFile != "" {
		return favoritesFile
	}
	return filepath.Join(configDir(), "favorites.json")
}

var favoritesCmd = &cobra.Command{
	Use:   "favorites",
	Short: "Manage pinned scan roots",
}

var favoritesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List favorites",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		favs, err := store.LoadFavorites(favoritesPath())
		if err != nil {
			return err
		}
		for _, f := range favs.Items {
			if f.Label != "" {
				fmt.Printf("%s\t%s\n", f.Path, f.Label)
			} else {
				fmt.Println(f.Path)
			}
		}
		return nil
	},
}

var favoritesAddCmd = &cobra.Command{
	Use:   "add <path> [label]",
	Short: "Pin a scan root",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		favs, err := store.LoadFavorites(favoritesPath())
		if err != nil {
			return err
		}
		label := ""
		if len(args) == 2 {
			label = args[1]
		}
		favs.Add(args[0], label)
		return favs.Save()
	},
}

var favoritesRemoveCmd = &cobra.Command{
	Use:   "remove <path>",
	Short: "Unpin a scan root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		favs, err := store.LoadFavorites(favoritesPath())
		if err != nil {
			return err
		}
		if !favs.Remove(args[0]) {
			return fmt.Errorf("not a favorite: %s", args[0])
		}
		return favs.Save()
	},
}
