package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/thesyncim/encstream"
)

type ProvidersOptions struct {
	OutputFormat string
}

type providerRow struct {
	Codec     string `json:"codec"`
	Provider  string `json:"provider"`
	License   string `json:"license"`
	Available bool   `json:"available"`
}

func NewProvidersCommand(a *app) *cobra.Command {
	opts := &ProvidersOptions{}

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List codec providers and whether their libraries load",
		Example: `  encstream providers
  encstream providers --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printProviders(cmd.OutOrStdout(), opts.OutputFormat, listProviders())
		},
	}

	cmd.Flags().StringVar(&opts.OutputFormat, "output", "text", "Output format (json or text)")
	cmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"json", "text"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func listProviders() []providerRow {
	providers := append(
		encstream.AudioEncoderProviders(encstream.AudioCodecAAC),
		encstream.VideoEncoderProviders(encstream.VideoCodecH264)...,
	)
	rows := []providerRow{}
	for _, p := range providers {
		rows = append(rows, providerRow{p.Codec(), p.String(), p.License().String(), p.Available()})
	}
	return rows
}

func printProviders(w io.Writer, format string, rows []providerRow) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "text":
		if len(rows) == 0 {
			fmt.Fprintln(w, "no codec providers compiled in")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CODEC\tPROVIDER\tLICENSE\tAVAILABLE")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", r.Codec, r.Provider, r.License, r.Available)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
