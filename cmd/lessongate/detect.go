package main

import (
	"fmt"

	"github.com/lessongate/lessongate/internal/provider"
	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect <url>",
	Short: "Show how a lesson video URL would be played",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hint, _ := cmd.Flags().GetString("hint")
		userAgent, _ := cmd.Flags().GetString("user-agent")

		rawURL := args[0]
		p := provider.Detect(rawURL, provider.Provider(hint))
		segmented := p == provider.DirectFile && provider.NeedsSegmentedDelivery(rawURL)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "provider:  %s\n", p)
		if id, ok := provider.VideoID(p, rawURL); ok {
			fmt.Fprintf(out, "video id:  %s\n", id)
		}
		if origin := provider.Origin(p); origin != "" {
			fmt.Fprintf(out, "origin:    %s\n", origin)
		}
		fmt.Fprintf(out, "segmented: %t\n", segmented)
		fmt.Fprintf(out, "delivery:  %s\n", provider.ChooseDelivery(p, segmented, userAgent))
		return nil
	},
}

func init() {
	detectCmd.Flags().String("hint", "", "provider recorded with the lesson (youtube, vimeo, wistia, loom, embed, direct)")
	detectCmd.Flags().String("user-agent", "", "browser user agent used to pick segmented delivery")
}
