package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"supportchat/api/internal/chatclient"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow a conversation; lines typed on stdin are sent",
	RunE:  runTail,
}

func init() {
	tailCmd.Flags().String("conversation", "", "conversation id (defaults to your own)")
	tailCmd.Flags().Duration("interval", 0, "poll interval (defaults to 3s for users, 2s for admins)")
	tailCmd.Flags().Bool("read-only", false, "do not read stdin")
	rootCmd.AddCommand(tailCmd)
}

func runTail(cmd *cobra.Command, _ []string) error {
	cfg, client, err := signedIn()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flag, _ := cmd.Flags().GetString("conversation")
	conversationID, err := resolveConversation(ctx, cfg, client, flag)
	if err != nil {
		return err
	}
	interval, _ := cmd.Flags().GetDuration("interval")
	readOnly, _ := cmd.Flags().GetBool("read-only")

	view := chatclient.NewView(client, chatclient.ViewConfig{
		ConversationID: conversationID,
		SenderID:       cfg.UserID,
		Role:           cfg.Role,
		Interval:       interval,
		Log:            logger(cfg),
	})
	defer view.Close()

	printer := newEntryPrinter(cmd.OutOrStdout(), cfg.UserID)
	unread := make(chan struct{}, 1)
	view.OnChange(func(entries []chatclient.Entry) {
		if printer.print(entries) {
			select {
			case unread <- struct{}{}:
			default:
			}
		}
	})
	fmt.Fprintf(cmd.ErrOrStderr(), "following %s (ctrl-c to stop)\n", conversationID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return view.Run(gctx)
	})
	g.Go(func() error {
		return markRead(gctx, client, conversationID, unread, logger(cfg))
	})
	if !readOnly {
		g.Go(func() error {
			return sendLines(gctx, view, cmd.InOrStdin(), cmd.ErrOrStderr())
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// sendLines sends every non-blank stdin line. A failed send is reported and
// left for "/retry".
func sendLines(ctx context.Context, view *chatclient.View, in io.Reader, errOut io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	var lastFailed string
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case line == "/retry":
				if lastFailed == "" {
					fmt.Fprintln(errOut, "nothing to retry")
					continue
				}
				if err := view.Resend(ctx, lastFailed); err != nil {
					fmt.Fprintf(errOut, "retry failed: %v\n", err)
					continue
				}
				lastFailed = ""
			default:
				localID, err := view.SendText(ctx, line)
				if err != nil {
					fmt.Fprintf(errOut, "not sent (%v); type /retry to try again\n", err)
					lastFailed = localID
				}
			}
		}
	}
}

// markRead marks the conversation read each time unread fires. Failures are
// logged; the next signal tries again.
func markRead(ctx context.Context, client *chatclient.Client, conversationID string, unread <-chan struct{}, log zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-unread:
			updated, err := client.MarkRead(ctx, conversationID)
			if err != nil {
				if ctx.Err() == nil {
					log.Debug().Err(err).Msg("mark read failed")
				}
				continue
			}
			log.Debug().Int("updated", updated).Msg("conversation marked read")
		}
	}
}

type entryPrinter struct {
	out  io.Writer
	self string

	mu      sync.Mutex
	printed map[string]struct{}
}

func newEntryPrinter(out io.Writer, self string) *entryPrinter {
	return &entryPrinter{out: out, self: self, printed: map[string]struct{}{}}
}

// print writes confirmed messages that have not been shown yet and reports
// whether any of them came from the other participant.
func (p *entryPrinter) print(entries []chatclient.Entry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	fromOthers := false
	for _, e := range entries {
		if e.Status != chatclient.StatusConfirmed {
			continue
		}
		if _, ok := p.printed[e.Message.ID]; ok {
			continue
		}
		p.printed[e.Message.ID] = struct{}{}

		who := "them"
		if e.Message.SenderID == p.self {
			who = "me"
		} else {
			fromOthers = true
		}
		body := e.Message.Content
		if e.Message.Kind == chatclient.KindFile {
			body = fmt.Sprintf("[%s] %s %s", e.Message.MediaType, e.Message.Filename, e.Message.AttachmentURL)
		}
		fmt.Fprintf(p.out, "%s %-4s %s\n", e.Message.CreatedAt.Local().Format(time.Kitchen), who, body)
	}
	return fromOthers
}
