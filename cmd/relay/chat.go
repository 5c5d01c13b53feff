package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentrelay/core"
)

const chatHelp = `commands:
  /summary   show the session summary
  /clear     drop the session history
  /quit      leave the chat
`

func newChatCmd(g *globalFlags) *cobra.Command {
	f := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive multi-turn session; every line becomes a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			out := cmd.OutOrStdout()
			relay, shutdown, err := g.open(cmd, out)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := shutdown(); err == nil {
					err = cerr
				}
			}()

			ctx := cmd.Context()
			p := &eventPrinter{w: out, json: f.json}
			if err := p.drain(mustHandle(relay.Handle(ctx, core.LifecycleRequest{
				SessionID: f.sessionID, UserID: f.userID, Action: core.LifecycleCreated,
			}))); err != nil {
				return err
			}
			fmt.Fprint(out, chatHelp)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())

				switch line {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				case "/summary":
					sum, err := relay.SessionSummary(ctx, f.sessionID)
					if err != nil {
						return err
					}
					b, err := yaml.Marshal(sum)
					if err != nil {
						return err
					}
					fmt.Fprint(out, string(b))
					continue
				case "/clear":
					err = p.drain(mustHandle(relay.Handle(ctx, core.LifecycleRequest{
						SessionID: f.sessionID, Action: core.LifecycleCleared,
					})))
				default:
					err = p.drain(mustHandle(relay.Handle(ctx, core.ChatRequest{
						TaskID: core.NewID(), SessionID: f.sessionID, UserID: f.userID, Message: line,
					})))
				}
				if err != nil {
					return err
				}
				if ctx.Err() != nil {
					return nil
				}
			}
		},
	}
	f.bind(cmd)
	return cmd
}

// mustHandle turns a rejected request into a single error event.
func mustHandle(events <-chan core.Event, err error) <-chan core.Event {
	if err == nil {
		return events
	}
	ch := make(chan core.Event, 1)
	ch <- core.NewErrorEvent(core.EventError, "", "", err)
	close(ch)
	return ch
}
