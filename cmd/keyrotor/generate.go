package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ineyio/keyrotor"
	"github.com/ineyio/keyrotor/internal/app"
)

func newGenerateCmd(f *rootFlags) *cobra.Command {
	var (
		model       string
		maxTokens   int
		temperature float64
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Route one prompt through the provider chain",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg, f.logger())
			if err != nil {
				return err
			}
			defer a.Close()

			req := keyrotor.UserPrompt(strings.Join(args, " "))
			req.Model = model
			if maxTokens > 0 {
				req.MaxTokens = keyrotor.IntPtr(maxTokens)
			}
			if cmd.Flags().Changed("temperature") {
				req.Temperature = keyrotor.Float64Ptr(temperature)
			}

			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			resp, err := a.Router.Generate(ctx, req)
			if serr := a.SaveSnapshot(ctx); serr != nil {
				a.Logger.Warn("snapshot_save_failed", "error", serr)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Content)
			fmt.Fprintf(out, "\n-- %s/%s key=%s attempts=%d fallbacks=%d tokens=%d\n",
				resp.Routing.Provider, resp.Routing.Model, resp.Routing.Key,
				resp.Routing.Attempts, resp.Routing.Fallbacks, resp.Usage.TotalTokens)
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "model for providers that do not pin one")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "maximum output tokens")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "sampling temperature")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")
	return cmd
}
