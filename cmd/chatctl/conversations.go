package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"supportchat/api/internal/chatclient"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations (admin) or show your own",
	RunE:    runConversations,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search messages across conversations (admin)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	conversationsCmd.Flags().Bool("watch", false, "keep polling and reprint the list when it changes (admin)")
	conversationsCmd.Flags().Duration("interval", chatclient.DirectoryPollInterval, "poll interval for --watch")
	searchCmd.Flags().Int("limit", 20, "maximum number of hits")
	rootCmd.AddCommand(conversationsCmd, searchCmd)
}

func runConversations(cmd *cobra.Command, _ []string) error {
	cfg, client, err := signedIn()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !isAdmin(cfg) {
		conv, err := chatclient.EnsureConversation(cmd.Context(), client)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\tstarted %s\n", conv.ID, conv.CreatedAt.Local().Format(time.RFC822))
		return nil
	}

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		interval, _ := cmd.Flags().GetDuration("interval")
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := watchDirectory(ctx, client, interval, logger(cfg), out); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}

	summaries, err := client.Conversations(cmd.Context())
	if err != nil {
		return err
	}
	printSummaries(out, summaries)
	return nil
}

// watchDirectory prints the directory whenever a poll changes it, until ctx
// ends.
func watchDirectory(ctx context.Context, client *chatclient.Client, interval time.Duration, log zerolog.Logger, out io.Writer) error {
	dir := chatclient.NewDirectoryView(client, interval, log)
	first := true
	dir.OnChange(func(summaries []chatclient.ConversationSummary) {
		if !first {
			fmt.Fprintln(out)
		}
		first = false
		printSummaries(out, summaries)
	})
	return dir.Run(ctx)
}

func printSummaries(out io.Writer, summaries []chatclient.ConversationSummary) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSER\tUNREAD\tLAST ACTIVITY\tLAST MESSAGE")
	for _, s := range summaries {
		last := ""
		if s.LastMessage != nil {
			last = preview(*s.LastMessage, 40)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			s.ID, s.User.DisplayName, s.UnreadCount, s.LastActivityAt.Local().Format(time.Kitchen), last)
	}
	_ = tw.Flush()
}

func runSearch(cmd *cobra.Command, args []string) error {
	_, client, err := signedIn()
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	resp, err := client.Search(cmd.Context(), strings.Join(args, " "), limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, hit := range resp.Results {
		fmt.Fprintf(out, "%s  %s  %s\n", hit.ConversationID, hit.MessageID, hit.Snippet)
	}
	fmt.Fprintf(out, "%d hit(s)\n", resp.Total)
	return nil
}

// resolveConversation picks the target conversation: the flag when given,
// otherwise the signed-in user's own.
func resolveConversation(ctx context.Context, cfg cliConfig, client *chatclient.Client, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if isAdmin(cfg) {
		return "", fmt.Errorf("--conversation is required for admins")
	}
	conv, err := chatclient.EnsureConversation(ctx, client)
	if err != nil {
		return "", err
	}
	return conv.ID, nil
}

func preview(msg chatclient.Message, width int) string {
	text := msg.Content
	if msg.Kind == chatclient.KindFile {
		text = "[file] " + msg.Filename
	}
	text = strings.Join(strings.Fields(text), " ")
	if len([]rune(text)) > width {
		text = string([]rune(text)[:width-1]) + "…"
	}
	return text
}
