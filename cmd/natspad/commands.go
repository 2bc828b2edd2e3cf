package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/c360/natspad/session"
)

// adHocKey identifies a loop started from the command line.
func adHocKey(kind string) string {
	return "cli:" + kind + ":" + uuid.NewString()
}

func payloadArg(args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	return ""
}

func (c *cli) pubCmd() *cobra.Command {
	var headers []string

	cmd := &cobra.Command{
		Use:   "pub SUBJECT [PAYLOAD]",
		Short: "Publish a message without waiting for receivers",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := parseAssignments("header", headers)
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				block, err := a.session.Publish(ctx, a.serverFor(""), args[0], payloadArg(args), h)
				if err != nil {
					return err
				}
				return a.emit(block)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Header, name=value (repeatable)")
	return cmd
}

func (c *cli) reqCmd() *cobra.Command {
	var (
		headers []string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "req SUBJECT [PAYLOAD]",
		Short: "Send a request and print the response",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := parseAssignments("header", headers)
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				block, err := a.session.SendRequest(ctx, a.serverFor(""), args[0], payloadArg(args),
					session.RequestOptions{Timeout: timeout}, h)
				if err != nil {
					return err
				}
				return a.emit(block)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Header, name=value (repeatable)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Wait this long for a response (default from config)")
	return cmd
}

func (c *cli) subCmd() *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "sub SUBJECT",
		Short: "Subscribe and print messages until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.startSubscription(ctx, "", args[0], adHocKey("sub")); err != nil {
					return err
				}
				return a.hold(ctx, duration)
			})
		},
	}
	cmd.Flags().DurationVar(&duration, "for", 0, "Stop after this long (default: until interrupted)")
	return cmd
}

func (c *cli) replyCmd() *cobra.Command {
	var (
		headers  []string
		template string
		payload  string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "reply SUBJECT",
		Short: "Answer requests on a subject until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := parseAssignments("header", headers)
			if err != nil {
				return err
			}
			opts := session.ReplyOptions{Subject: args[0], Headers: h}
			if cmd.Flags().Changed("template") {
				opts.Template = &template
			}
			if cmd.Flags().Changed("payload") {
				opts.Payload = &payload
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.startReplyHandler(ctx, opts, adHocKey("reply")); err != nil {
					return err
				}
				return a.hold(ctx, duration)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Reply header, name=value (repeatable)")
	cmd.Flags().StringVar(&template, "template", "", "Reply template, resolved per request ({{request.body}}, ...)")
	cmd.Flags().StringVar(&payload, "payload", "", "Fixed reply payload")
	cmd.Flags().DurationVar(&duration, "for", 0, "Stop after this long (default: until interrupted)")
	return cmd
}

func (c *cli) pullCmd() *cobra.Command {
	var opts session.PullOptions

	cmd := &cobra.Command{
		Use:   "pull [SUBJECT]",
		Short: "Fetch and ack a batch of messages from a JetStream consumer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.Subject = args[0]
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				block, err := a.session.Pull(ctx, a.serverFor(""), opts)
				if err != nil {
					return err
				}
				return a.emit(block)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Stream, "stream", "", "Stream name (default: the stream capturing SUBJECT)")
	cmd.Flags().StringVar(&opts.Consumer, "consumer", "", "Durable consumer name (default: ephemeral consumer on SUBJECT)")
	cmd.Flags().IntVar(&opts.Batch, "batch", 0, "Maximum messages to fetch (default from config)")
	cmd.Flags().DurationVarP(&opts.Timeout, "timeout", "t", 0, "Maximum wait for the batch (default from config)")
	return cmd
}

// startSubscription acquires the subject channel for key and subscribes.
func (a *app) startSubscription(ctx context.Context, server, subject, key string) error {
	ch, err := a.channels.Acquire(a.vars.ResolveText(subject), key)
	if err != nil {
		return err
	}
	if err := a.session.StartSubscription(ctx, a.serverFor(server), subject, ch, key); err != nil {
		a.channels.Release(key)
		return err
	}
	ch.Show()
	return nil
}

// startReplyHandler acquires the reply channel for key and starts the handler.
func (a *app) startReplyHandler(ctx context.Context, opts session.ReplyOptions, key string) error {
	ch, err := a.channels.Acquire("Reply:"+a.vars.ResolveText(opts.Subject), key)
	if err != nil {
		return err
	}
	opts.Server = a.serverFor(opts.Server)
	if err := a.session.StartReplyHandler(ctx, opts, ch, key); err != nil {
		a.channels.Release(key)
		return err
	}
	ch.Show()
	return nil
}
