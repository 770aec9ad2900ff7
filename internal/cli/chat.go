package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/raphaelgruber/botctl/internal/chat"
	"github.com/raphaelgruber/botctl/internal/client"
	"github.com/raphaelgruber/botctl/internal/pushchan"
	"github.com/spf13/cobra"
)

var (
	chatNoSave        bool
	chatPush          bool
	chatConversation  int
	historyLimit      int
	conversationForce bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [bot-id]",
	Short: "Chat with a trained bot",
	Long: `Open an interactive chat with a bot. Without a bot id the last selected
bot is used. Only bots in status active or trained can chat.

Inside the chat:
  /new             start a new session
  /save            toggle saving conversations
  /history         list saved conversations
  /load <id>       continue a saved conversation
  /delete <id>     delete a saved conversation
  /quit            leave

Examples:
  botctl chat 7
  botctl chat 7 --no-save
  botctl chat 7 --push
  botctl chat 7 --conversation 42`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{annotationInteractive: "true"},
	RunE:        runChat,
}

var historyCmd = &cobra.Command{
	Use:   "history [bot-id]",
	Short: "List saved conversations of a bot",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

var conversationCmd = &cobra.Command{
	Use:   "conversation <conversation-id>",
	Short: "Show a saved conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowConversation,
}

var conversationDeleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a saved conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteConversation,
}

func init() {
	chatCmd.Flags().BoolVar(&chatNoSave, "no-save", false, "do not save this conversation")
	chatCmd.Flags().BoolVar(&chatPush, "push", false, "receive replies over the push channel")
	chatCmd.Flags().IntVar(&chatConversation, "conversation", 0, "continue a saved conversation")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", chat.DefaultHistoryLimit, "max conversations")

	conversationDeleteCmd.Flags().BoolVarP(&conversationForce, "force", "f", false, "skip confirmation")
	conversationCmd.AddCommand(conversationDeleteCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	botID, err := botArg(args)
	if err != nil {
		return err
	}

	ctx, cancel := requestContext()
	bot, err := api.GetBot(ctx, botID)
	cancel()
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return fmt.Errorf("bot not found: %d", botID)
		}
		return fmt.Errorf("get bot: %w", err)
	}
	if !bot.Chattable() {
		return fmt.Errorf("bot %s is %s, train it first with 'botctl train %d'", bot.Name, bot.Status, bot.ID)
	}
	if err := store.SetLastBot(bot.ID); err != nil {
		logger.Warn("remember bot", "bot_id", bot.ID, "error", err)
	}

	autoSave := store.AutoSave() && !chatNoSave
	if isTerminal() {
		return runChatView(bot, autoSave)
	}
	return runChatLines(bot, autoSave)
}

// dialPush opens the push channel for the session's current id.
func dialPush(ctx context.Context, s *chat.Session) error {
	ch, err := pushchan.Dial(ctx, pushchan.Config{
		URL:       cfg.PushURL,
		SessionID: s.SessionID(),
		Token:     api.Token(),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("connect push channel: %w", err)
	}
	if err := s.UsePush(context.Background(), ch); err != nil {
		ch.Close()
		return err
	}
	return nil
}

// startSession selects the bot or resumes --conversation, then dials push if asked.
func startSession(s *chat.Session, botID int) error {
	if _, err := s.SelectBot(botID); err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()

	if chatConversation > 0 {
		if _, err := s.LoadConversation(ctx, chatConversation); err != nil {
			return err
		}
	}
	if chatPush {
		return dialPush(ctx, s)
	}
	return nil
}

// runChatLines is the chat loop for non-terminal stdin/stdout.
func runChatLines(bot *client.Bot, autoSave bool) error {
	s := chat.New(api,
		chat.WithLogger(logger),
		chat.WithAutoSave(autoSave),
		chat.WithRevealInterval(0),
		chat.WithEventSink(func(ev chat.Event) {
			switch ev.Kind {
			case chat.EventMessage:
				if ev.Message.Sender == chat.SenderBot {
					fmt.Printf("%s: %s\n", bot.Name, ev.Message.Content)
				}
			case chat.EventError:
				fmt.Fprintf(os.Stderr, "Warning: %v\n", ev.Err)
			}
		}),
	)
	defer s.Close()

	if err := startSession(s, bot.ID); err != nil {
		return err
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}
		ctx, cancel := requestContext()
		_, err := s.Send(ctx, line)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	return scanner.Err()
}

func runHistory(cmd *cobra.Command, args []string) error {
	botID, err := botArg(args)
	if err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()

	history, err := api.ConversationHistory(ctx, botID, historyLimit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(history) == 0 {
		fmt.Println("No saved conversations.")
		return nil
	}

	fmt.Printf("Conversations (%d):\n\n", len(history))
	for _, c := range history {
		fmt.Println(formatSummary(c))
	}
	return nil
}

func formatSummary(c client.ConversationSummary) string {
	line := fmt.Sprintf("#%-6d %s  %3d msgs  %s",
		c.ConversationID, c.StartedAt.Local().Format("2006-01-02 15:04"), c.MessageCount, c.SessionID)
	if c.Preview != nil && *c.Preview != "" {
		line += "\n        " + truncate(*c.Preview, 60)
	}
	return line
}

func runShowConversation(cmd *cobra.Command, args []string) error {
	id, err := parseID("conversation", args[0])
	if err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()

	conv, err := api.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return fmt.Errorf("conversation not found: %d", id)
		}
		return fmt.Errorf("get conversation: %w", err)
	}

	fmt.Printf("Conversation #%d (bot %d)\n", conv.ID, conv.BotID)
	fmt.Printf("  Session: %s\n", conv.SessionID)
	fmt.Printf("  Started: %s\n\n", conv.CreatedAt.Local().Format("2006-01-02 15:04"))
	for _, m := range conv.Messages {
		line := fmt.Sprintf("[%s] %-4s %s", m.Timestamp.Local().Format("15:04:05"), m.Sender, m.Message)
		if m.Intent != nil && *m.Intent != "" {
			line += fmt.Sprintf("  (%s", *m.Intent)
			if m.Confidence != nil {
				line += fmt.Sprintf(" %.2f", *m.Confidence)
			}
			line += ")"
		}
		fmt.Println(line)
	}
	return nil
}

func runDeleteConversation(cmd *cobra.Command, args []string) error {
	id, err := parseID("conversation", args[0])
	if err != nil {
		return err
	}

	if !conversationForce {
		ok, err := confirm(fmt.Sprintf("Delete conversation #%d?", id))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	ctx, cancel := requestContext()
	defer cancel()

	if err := api.DeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	fmt.Printf("Deleted conversation #%d\n", id)
	return nil
}
