package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"counsel/internal/api"
	"counsel/internal/stream"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Upload a document to the running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open document: %w", err)
			}
			defer file.Close()

			client := ctx.client()
			id, err := client.Submit(cmd.Context(), filepath.Base(args[0]), file)
			if err != nil {
				return wrapDialError(err, ctx.address())
			}
			out := cmd.OutOrStdout()
			if !follow {
				if asJSON {
					return writeJSON(cmd, api.SubmitResponse{SessionID: id})
				}
				fmt.Fprintln(out, id)
				return nil
			}

			err = client.Events(cmd.Context(), id, func(evt api.Event) error {
				if asJSON {
					return writeJSON(cmd, evt)
				}
				if line := describeEvent(evt); line != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), line)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if asJSON {
				return nil
			}
			s, err := client.Session(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprint(out, renderSession(s, useColor(out)))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream progress until the analysis finishes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON (events as JSON lines when following)")
	return cmd
}

// describeEvent renders one stream event as a progress line.
func describeEvent(evt api.Event) string {
	switch stream.Kind(evt.Kind) {
	case stream.KindProgress:
		var p stream.ProgressPayload
		if decodePayload(evt, &p) != nil {
			return ""
		}
		line := fmt.Sprintf("[%3d%%] %s", p.Percent, p.State)
		if p.Message != "" {
			line += ": " + p.Message
		}
		return line
	case stream.KindPartial:
		var p struct {
			Field string `json:"field"`
		}
		if decodePayload(evt, &p) != nil {
			return ""
		}
		return "       recovered " + p.Field
	case stream.KindError:
		var p stream.ErrorPayload
		if decodePayload(evt, &p) != nil {
			return "analysis failed"
		}
		return fmt.Sprintf("analysis failed: %s (%s)", p.Message, p.Reason)
	case stream.KindComplete:
		return "[100%] analysis complete"
	default:
		return ""
	}
}

func decodePayload(evt api.Event, v any) error {
	if len(evt.Payload) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(evt.Payload, v)
}

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions held by the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := ctx.client().Sessions(cmd.Context())
			if err != nil {
				return wrapDialError(err, ctx.address())
			}
			if asJSON {
				return writeJSON(cmd, api.SessionListResponse{Sessions: sessions})
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions")
				return nil
			}
			fmt.Fprintln(out, renderSessionList(sessions))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show SESSION",
		Short: "Show a session's analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.client().Session(cmd.Context(), args[0])
			if err != nil {
				return wrapDialError(err, ctx.address())
			}
			if asJSON {
				return writeJSON(cmd, s)
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderSession(s, useColor(out)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newChatCommand(ctx *commandContext) *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "chat SESSION [MESSAGE...]",
		Short: "Ask follow-up questions about an analyzed document",
		Long: "Sends MESSAGE as one chat turn. Without a message, reads one question per line\n" +
			"from stdin until EOF.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			id := args[0]
			out := cmd.OutOrStdout()

			if history {
				messages, err := client.History(cmd.Context(), id)
				if err != nil {
					return wrapDialError(err, ctx.address())
				}
				for _, msg := range messages {
					fmt.Fprintf(out, "%s: %s\n\n", msg.Role, msg.Text)
				}
				return nil
			}

			if len(args) > 1 {
				return chatTurn(cmd.Context(), client, id, strings.Join(args[1:], " "), out)
			}
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				question := strings.TrimSpace(scanner.Text())
				if question == "" {
					continue
				}
				if err := chatTurn(cmd.Context(), client, id, question, out); err != nil {
					return err
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "Print the conversation so far instead of sending a message")
	return cmd
}

func chatTurn(ctx context.Context, client *api.Client, id, question string, out io.Writer) error {
	reply, err := client.Chat(ctx, id, question)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, reply)
	return nil
}

func newEndCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "end SESSION",
		Short: "Cancel a session and discard its document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.client().End(cmd.Context(), args[0]); err != nil {
				return wrapDialError(err, ctx.address())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ended session %s\n", args[0])
			return nil
		},
	}
}
