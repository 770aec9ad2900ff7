package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/botctl/internal/client"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	botName        string
	botDescription string
	botLanguage    string
	botForce       bool

	updateName        string
	updateDescription string
	updateLanguage    string
)

var botsCmd = &cobra.Command{
	Use:   "bots",
	Short: "List and manage bots",
	Long: `List and manage bots.

Examples:
  botctl bots
  botctl bots show 7
  botctl bots create --name "Shop assistant" --language vi
  botctl bots update 7 --description "Answers price questions"
  botctl bots delete 7`,
	Args: cobra.NoArgs,
	RunE: runListBots,
}

var botsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bots",
	Args:  cobra.NoArgs,
	RunE:  runListBots,
}

var botsShowCmd = &cobra.Command{
	Use:   "show <bot-id>",
	Short: "Show a bot with its training data and recent jobs",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowBot,
}

var botsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a bot",
	Args:  cobra.NoArgs,
	RunE:  runCreateBot,
}

var botsUpdateCmd = &cobra.Command{
	Use:   "update <bot-id>",
	Short: "Update a bot's name, description or language",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpdateBot,
}

var botsDeleteCmd = &cobra.Command{
	Use:   "delete <bot-id>",
	Short: "Delete a bot with its data, jobs and conversations",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteBot,
}

func init() {
	botsCreateCmd.Flags().StringVarP(&botName, "name", "n", "", "bot name (required)")
	botsCreateCmd.Flags().StringVarP(&botDescription, "description", "d", "", "description")
	botsCreateCmd.Flags().StringVarP(&botLanguage, "language", "l", "vi", "language code")
	_ = botsCreateCmd.MarkFlagRequired("name")

	botsUpdateCmd.Flags().StringVarP(&updateName, "name", "n", "", "new name")
	botsUpdateCmd.Flags().StringVarP(&updateDescription, "description", "d", "", "new description")
	botsUpdateCmd.Flags().StringVarP(&updateLanguage, "language", "l", "", "new language code")

	botsDeleteCmd.Flags().BoolVarP(&botForce, "force", "f", false, "skip confirmation")

	botsCmd.AddCommand(botsListCmd)
	botsCmd.AddCommand(botsShowCmd)
	botsCmd.AddCommand(botsCreateCmd)
	botsCmd.AddCommand(botsUpdateCmd)
	botsCmd.AddCommand(botsDeleteCmd)
}

func runListBots(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestContext()
	defer cancel()

	bots, err := api.ListBots(ctx)
	if err != nil {
		return fmt.Errorf("list bots: %w", err)
	}
	if len(bots) == 0 {
		fmt.Println("No bots found. Create one with 'botctl bots create --name <name>'.")
		return nil
	}

	last := store.Get().LastBotID
	fmt.Printf("%-6s %-30s %-10s %-8s %s\n", "ID", "NAME", "STATUS", "LANG", "CREATED")
	fmt.Println(strings.Repeat("-", 72))
	for _, b := range bots {
		mark := ""
		if b.ID == last {
			mark = " *"
		}
		fmt.Printf("%-6d %-30s %-10s %-8s %s%s\n",
			b.ID, truncate(b.Name, 30), b.Status, b.Language, b.CreatedAt.Format("2006-01-02"), mark)
	}
	return nil
}

func runShowBot(cmd *cobra.Command, args []string) error {
	botID, err := parseID("bot", args[0])
	if err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()

	var (
		bot  *client.Bot
		data []client.TrainingData
		jobs []client.TrainingJob
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bot, err = api.GetBot(gctx, botID)
		return err
	})
	g.Go(func() error {
		var err error
		data, err = api.ListTrainingData(gctx, botID)
		return err
	})
	g.Go(func() error {
		var err error
		jobs, err = api.ListTrainingJobs(gctx, botID, 5)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return fmt.Errorf("bot not found: %d", botID)
		}
		return fmt.Errorf("get bot: %w", err)
	}

	fmt.Printf("Bot: %s (%d)\n", bot.Name, bot.ID)
	fmt.Printf("  Status: %s\n", bot.Status)
	fmt.Printf("  Language: %s\n", bot.Language)
	if bot.Description != nil && *bot.Description != "" {
		fmt.Printf("  Description: %s\n", *bot.Description)
	}
	if bot.ModelPath != nil {
		fmt.Printf("  Model: %s\n", *bot.ModelPath)
	}
	fmt.Printf("  Created: %s\n", bot.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Printf("  Training examples: %d\n", len(data))
	if bot.Chattable() {
		fmt.Printf("  Ready to chat: botctl chat %d\n", bot.ID)
	}

	if len(jobs) > 0 {
		fmt.Println("\nRecent training jobs:")
		for _, j := range jobs {
			fmt.Printf("  #%-5d %-10s %3d%%  %s\n", j.ID, j.Status, j.Progress, j.CreatedAt.Format("2006-01-02 15:04"))
		}
	}
	return nil
}

func runCreateBot(cmd *cobra.Command, args []string) error {
	input := client.BotInput{Name: botName, Language: botLanguage}
	if botDescription != "" {
		input.Description = &botDescription
	}

	ctx, cancel := requestContext()
	defer cancel()

	bot, err := api.CreateBot(ctx, input)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}
	if err := store.SetLastBot(bot.ID); err != nil {
		logger.Warn("remember bot", "bot_id", bot.ID, "error", err)
	}

	fmt.Printf("Created bot: %s (%d)\n", bot.Name, bot.ID)
	fmt.Printf("  Add training data with 'botctl data import %d <file>'\n", bot.ID)
	return nil
}

func runUpdateBot(cmd *cobra.Command, args []string) error {
	botID, err := parseID("bot", args[0])
	if err != nil {
		return err
	}

	var update client.BotUpdate
	if cmd.Flags().Changed("name") {
		update.Name = &updateName
	}
	if cmd.Flags().Changed("description") {
		update.Description = &updateDescription
	}
	if cmd.Flags().Changed("language") {
		update.Language = &updateLanguage
	}
	if update.Name == nil && update.Description == nil && update.Language == nil {
		return errors.New("nothing to update, pass --name, --description or --language")
	}

	ctx, cancel := requestContext()
	defer cancel()

	bot, err := api.UpdateBot(ctx, botID, update)
	if err != nil {
		return fmt.Errorf("update bot: %w", err)
	}
	fmt.Printf("Updated bot: %s (%d)\n", bot.Name, bot.ID)
	return nil
}

func runDeleteBot(cmd *cobra.Command, args []string) error {
	botID, err := parseID("bot", args[0])
	if err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()

	bot, err := api.GetBot(ctx, botID)
	if err != nil {
		return fmt.Errorf("get bot: %w", err)
	}

	if !botForce {
		fmt.Printf("About to delete: %s (%d) with all training data, jobs and conversations\n", bot.Name, bot.ID)
		ok, err := confirm("\nContinue?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := api.DeleteBot(ctx, botID); err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	if store.Get().LastBotID == botID {
		if err := store.SetLastBot(0); err != nil {
			logger.Warn("forget bot", "bot_id", botID, "error", err)
		}
	}
	fmt.Printf("Deleted: %s\n", bot.Name)
	return nil
}

// truncate shortens s to n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
