package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/natspad/action"
	"github.com/c360/natspad/session"
)

func (c *cli) runCmd() *cobra.Command {
	var (
		line     int
		hold     bool
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Execute the actions of an action file",
		Long: `Execute the actions of an action file in order.

Subscriptions and reply handlers keep running until interrupted; requests,
publishes and pulls run once. With --line only the action at or closest
above that line runs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			doc, err := action.ParseFile(path)
			if err != nil {
				return err
			}

			actions := doc.Actions
			if line > 0 {
				act, ok := action.Nearest(doc.Actions, line, "")
				if !ok {
					return fmt.Errorf("no action at or above line %d in %s", line, args[0])
				}
				actions = []action.Action{act}
			}

			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				loops, err := a.execute(ctx, path, actions)
				if loops > 0 && hold {
					if holdErr := a.hold(ctx, duration); holdErr != nil {
						err = stderrors.Join(err, holdErr)
					}
				}
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&line, "line", "l", 0, "Run only the action at or closest above this line")
	cmd.Flags().BoolVar(&hold, "hold", true, "Keep subscriptions and reply handlers running until interrupted")
	cmd.Flags().DurationVar(&duration, "for", 0, "Stop holding after this long")
	return cmd
}

// execute runs actions in order and returns how many long-lived loops were
// started. A failing action is reported and the rest still run.
func (a *app) execute(ctx context.Context, path string, actions []action.Action) (int, error) {
	var (
		loops int
		errs  []error
	)

	for _, act := range actions {
		key := action.BuildKey(path, act.Line)
		logger := a.logger.With("action", act.Type, "line", act.Line, "subject", act.Subject)

		var err error
		switch act.Type {
		case action.Subscribe:
			if err = a.startSubscription(ctx, act.Server, act.Subject, key); err == nil {
				loops++
			}
		case action.Reply:
			err = a.startReplyHandler(ctx, session.ReplyOptions{
				Server:   act.Server,
				Subject:  act.Subject,
				Template: act.Template,
				Payload:  act.Payload,
				Headers:  act.Headers,
			}, key)
			if err == nil {
				loops++
			}
		case action.Request:
			err = a.oneShot(a.session.SendRequest(ctx, a.serverFor(act.Server), act.Subject, act.PayloadText(),
				session.RequestOptions{Timeout: act.Timeout}, act.Headers))
		case action.Publish:
			err = a.oneShot(a.session.Publish(ctx, a.serverFor(act.Server), act.Subject, act.PayloadText(), act.Headers))
		case action.Pull:
			err = a.oneShot(a.session.Pull(ctx, a.serverFor(act.Server), session.PullOptions{
				Stream:   act.Stream,
				Consumer: act.Consumer,
				Subject:  act.Subject,
				Batch:    act.Batch,
				Timeout:  act.Timeout,
			}))
		default:
			err = fmt.Errorf("unsupported action type %q", act.Type)
		}

		if err != nil {
			logger.Warn("Action failed", "error", err)
			a.emitError(fmt.Sprintf("%s (line %d)", act.Type, act.Line), err)
			errs = append(errs, fmt.Errorf("line %d: %w", act.Line, err))
			continue
		}
		logger.Debug("Action done")
	}

	return loops, stderrors.Join(errs...)
}
