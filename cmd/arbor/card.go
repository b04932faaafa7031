package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arborhq/arbor/internal/storage"
	"github.com/arborhq/arbor/internal/types"
	"github.com/arborhq/arbor/internal/ui"
)

var cardCmd = &cobra.Command{
	Use:     "card",
	Short:   "Create and edit cards",
	GroupID: "cards",
}

var cardCreateCmd = &cobra.Command{
	Use:   "create <id> <type>",
	Short: "Create a card",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		card, err := ws.CreateCard(rootCtx, args[0], args[1])
		exitOnError(err)
		respond(card, func() {
			printOK("created %s (%s)", ui.CardIDStyle.Render(card.ID), card.Type)
		})
	},
}

// cardView is the JSON shape of `card show`.
type cardView struct {
	*types.Card
	Properties map[string]string `json:"properties"`
	Trees      []string          `json:"trees,omitempty"`
}

var cardShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a card with its properties and trees",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		card, err := ws.Store.GetCard(rootCtx, args[0])
		exitOnError(err)
		props, err := ws.Store.GetProperties(rootCtx, card.ID)
		exitOnError(err)
		view := cardView{Card: card, Properties: props}
		for _, id := range ws.Engine.TreesContaining(card.ID) {
			if s, err := ws.Engine.Schema(id); err == nil {
				view.Trees = append(view.Trees, s.Name)
			}
		}
		sort.Strings(view.Trees)

		respond(view, func() {
			fmt.Printf("%s %s\n", ui.CardIDStyle.Render(card.ID), ui.CardTypeStyle.Render("("+card.Type+")"))
			if len(view.Trees) > 0 {
				fmt.Printf("  trees: %s\n", strings.Join(view.Trees, ", "))
			}
			names := make([]string, 0, len(props))
			for k := range props {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, k := range names {
				fmt.Printf("  %s = %s\n", ui.RenderMuted(k), props[k])
			}
		})
	},
}

var cardSetCmd = &cobra.Command{
	Use:   "set <id> <property> [value]",
	Short: "Set a card property (omit the value to clear it)",
	Long: `Set a card property. Relationship properties of a tree place the card in
that tree. Aggregate properties are computed and cannot be set. Any other
property is a user property, defined on the card's type on first use.`,
	Args: cobra.RangeArgs(2, 3),
	Run: func(cmd *cobra.Command, args []string) {
		value := ""
		if len(args) == 3 {
			value = args[2]
		}
		exitOnError(ws.SetProperty(rootCtx, args[0], args[1], value))
		respond(map[string]string{"card": args[0], "property": args[1], "value": value}, func() {
			if value == "" {
				printOK("cleared %s of %s", args[1], args[0])
				return
			}
			printOK("set %s of %s to %s", args[1], args[0], value)
		})
	},
}

var cardSetTypeCmd = &cobra.Command{
	Use:   "set-type <id> <type>",
	Short: "Change a card's type",
	Long: `Change a card's type. The card leaves every tree whose level no longer
matches its type; its children move up to its parent.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		trees, err := ws.SetCardType(rootCtx, args[0], args[1])
		exitOnError(err)
		respond(map[string]interface{}{"card": args[0], "type": args[1], "trees_changed": trees}, func() {
			printOK("%s is now a %s", args[0], args[1])
			for _, id := range trees {
				name := id
				if s, err := ws.Engine.Schema(id); err == nil {
					name = s.Name
				}
				fmt.Printf("  removed from tree %s\n", name)
			}
		})
	},
}

var cardListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cards",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cardType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		cards, err := ws.Store.ListCards(rootCtx, storage.CardFilter{Type: cardType, Limit: limit})
		exitOnError(err)
		respond(cards, func() {
			for _, c := range cards {
				fmt.Printf("%s %s\n", ui.CardIDStyle.Render(c.ID), ui.CardTypeStyle.Render("("+c.Type+")"))
			}
		})
	},
}

func init() {
	cardListCmd.Flags().String("type", "", "Only cards of this type")
	cardListCmd.Flags().Int("limit", 0, "Maximum number of cards")

	cardCmd.AddCommand(cardCreateCmd, cardShowCmd, cardSetCmd, cardSetTypeCmd, cardListCmd)
	rootCmd.AddCommand(cardCmd)
}
