package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentrelay/core"
)

type requestFlags struct {
	taskID       string
	sessionID    string
	userID       string
	systemPrompt string
	json         bool
}

func (f *requestFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.taskID, "task", "", "task id (generated when empty)")
	cmd.Flags().StringVar(&f.sessionID, "session", "cli", "session id")
	cmd.Flags().StringVar(&f.userID, "user", "", "user id")
	cmd.Flags().BoolVar(&f.json, "json", false, "print events as JSON lines")
}

func (f *requestFlags) task() string {
	if f.taskID != "" {
		return f.taskID
	}
	return core.NewID()
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Execute a single chat message and print its events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			relay, shutdown, err := g.open(cmd, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := shutdown(); err == nil {
					err = cerr
				}
			}()

			events, err := relay.Handle(cmd.Context(), core.ChatRequest{
				TaskID:       f.task(),
				SessionID:    f.sessionID,
				UserID:       f.userID,
				Message:      strings.Join(args, " "),
				SystemPrompt: f.systemPrompt,
			})
			if err != nil {
				return err
			}
			p := &eventPrinter{w: cmd.OutOrStdout(), json: f.json}
			return p.drain(events)
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&f.systemPrompt, "system", "", "system prompt prefixed to the message")
	return cmd
}

func newTaskCmd(g *globalFlags) *cobra.Command {
	f := &requestFlags{}
	var taskType, data string
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Execute a typed task (" + strings.Join(core.TaskTypes(), ", ") + ")",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			var payload map[string]any
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				return fmt.Errorf("--data: %w", err)
			}

			relay, shutdown, err := g.open(cmd, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := shutdown(); err == nil {
					err = cerr
				}
			}()

			events, err := relay.Handle(cmd.Context(), core.TaskRequest{
				TaskID:    f.task(),
				SessionID: f.sessionID,
				UserID:    f.userID,
				TaskType:  taskType,
				Data:      payload,
			})
			if err != nil {
				return err
			}
			p := &eventPrinter{w: cmd.OutOrStdout(), json: f.json}
			return p.drain(events)
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&taskType, "type", "", "task type")
	cmd.Flags().StringVar(&data, "data", "{}", "task payload as a JSON object")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}
