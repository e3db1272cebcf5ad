package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"supportchat/api/internal/chatclient"
)

var sendCmd = &cobra.Command{
	Use:   "send <text>",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

var sendFileCmd = &cobra.Command{
	Use:   "send-file <path>",
	Short: "Upload a file and send it as a message",
	Args:  cobra.ExactArgs(1),
	RunE:  runSendFile,
}

func init() {
	for _, cmd := range []*cobra.Command{sendCmd, sendFileCmd} {
		cmd.Flags().String("conversation", "", "conversation id (defaults to your own)")
	}
	sendFileCmd.Flags().String("type", "", "media type (sniffed from the content when empty)")
	rootCmd.AddCommand(sendCmd, sendFileCmd)
}

func openView(cmd *cobra.Command) (*chatclient.View, error) {
	cfg, client, err := signedIn()
	if err != nil {
		return nil, err
	}
	flag, _ := cmd.Flags().GetString("conversation")
	conversationID, err := resolveConversation(cmd.Context(), cfg, client, flag)
	if err != nil {
		return nil, err
	}
	return chatclient.NewView(client, chatclient.ViewConfig{
		ConversationID: conversationID,
		SenderID:       cfg.UserID,
		Role:           cfg.Role,
		Log:            logger(cfg),
	}), nil
}

func runSend(cmd *cobra.Command, args []string) error {
	view, err := openView(cmd)
	if err != nil {
		return err
	}
	defer view.Close()

	if _, err := view.SendText(cmd.Context(), strings.Join(args, " ")); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "sent")
	return nil
}

func runSendFile(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	mediaType, _ := cmd.Flags().GetString("type")

	view, err := openView(cmd)
	if err != nil {
		return err
	}
	defer view.Close()

	_, err = view.SendFile(cmd.Context(), chatclient.FileInput{
		Filename:  filepath.Base(args[0]),
		MediaType: mediaType,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("send file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %s (%d bytes)\n", filepath.Base(args[0]), len(data))
	return nil
}
