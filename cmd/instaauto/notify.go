package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newNotifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "notify <image_url> <caption>",
		Short: "Send one notification to the automation webhook",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := a.dispatcher().Notify(cmd.Context(), args[0], args[1])
			if !res.OK {
				if res.Err != nil {
					return fmt.Errorf("notify: %w", res.Err)
				}
				return fmt.Errorf("notify: status %d after %d attempts", res.StatusCode, res.Attempts)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "notification sent:", res.StatusCode)
			return nil
		},
	}
}
