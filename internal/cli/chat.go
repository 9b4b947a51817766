package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harun/oni/pkg/chat"
	"github.com/harun/oni/pkg/llm"
	"github.com/spf13/cobra"
)

func newLLMClient(env *environment) *llm.Client {
	cfg := env.config.LLM
	return llm.NewClient(llm.Config{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.MaxRetries,
	})
}

func newChatCmd() *cobra.Command {
	var (
		flags   keyFlags
		name    string
		model   string
		create  bool
		maxSize int
	)

	cmd := &cobra.Command{
		Use:   "chat <prompt...>",
		Short: "Run one conversation turn against the model",
		Long: `Send a prompt to the model with the transcript of the user's session and save
the exchange. --session picks a saved session (created first with --create);
the default session is used otherwise.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(func(ctx context.Context, env *environment) error {
				conv := chat.NewConversation(env.manager, newLLMClient(env), chat.Config{
					SystemPrompt: env.config.LLM.SystemPrompt,
					DefaultModel: env.config.LLM.DefaultModel,
					DefaultName:  env.config.Sessions.DefaultName,
				})

				if name != "" {
					var err error
					if create {
						err = conv.CreateSession(ctx, flags.guild, flags.user, name)
					} else {
						err = conv.Selector().Switch(ctx, flags.guild, flags.user, name)
					}
					if err != nil {
						return err
					}
				}
				if model != "" {
					if err := conv.SetModel(ctx, flags.guild, flags.user, model); err != nil {
						return err
					}
				}

				reply, err := conv.Turn(ctx, flags.guild, flags.user, strings.Join(args, " "))
				if err != nil {
					return err
				}
				for _, chunk := range chat.SplitReply(reply, maxSize) {
					fmt.Fprintln(cmd.OutOrStdout(), chunk)
				}
				return nil
			})
		},
	}

	flags.bind(cmd, false)
	cmd.Flags().StringVar(&name, "session", "", "session name (default from sessions.default_name)")
	cmd.Flags().BoolVar(&create, "create", false, "create --session before using it")
	cmd.Flags().StringVar(&model, "model", "", "model to use for this turn")
	cmd.Flags().IntVar(&maxSize, "max-message", chat.MaxMessageLength, "split the reply into messages of at most this many characters")

	return cmd
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models served by the LLM endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(func(ctx context.Context, env *environment) error {
				models, err := newLLMClient(env).Models(ctx)
				if err != nil {
					return err
				}
				for _, m := range models {
					marker := " "
					if m == env.config.LLM.DefaultModel {
						marker = "*"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, m)
				}
				return nil
			})
		},
	}
}
