package main

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/omegarag/internal/chatclient"
	"github.com/mohammad-safakhou/omegarag/internal/helpers"
	"github.com/mohammad-safakhou/omegarag/internal/rag"
	"github.com/mohammad-safakhou/omegarag/models"
	"github.com/spf13/cobra"
)

func askCMD(cfgPath *string) *cobra.Command {
	var (
		searchType string
		queryMode  string
		topK       int
		alpha      float64
		plain      bool
	)
	var ask = &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question in-process and print the cited studies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(*cfgPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			flush, err := startTracing(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer flush()

			_, orchestrator, err := pipeline(cfg, logger, nil)
			if err != nil {
				return err
			}

			params := models.SearchParams{SearchType: models.SearchType(searchType), QueryMode: models.QueryMode(queryMode), TopK: topK}
			if cmd.Flags().Changed("alpha") {
				params.Alpha = &alpha
			}
			resp, err := orchestrator.Answer(cmd.Context(), rag.ChatRequest{
				Message: strings.Join(args, " "),
				Params:  params,
			})
			if err != nil {
				return err
			}

			r, err := chatclient.NewRenderer(100, plain)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, r.Answer(resp.Answer))
			if len(resp.Sources) > 0 {
				fmt.Fprintln(out, r.Sources(resp.Sources, resp.Answer))
				fmt.Fprintln(out)
				fmt.Fprintln(out, strings.Join(helpers.FormatCitations(resp.Sources, helpers.WithMaxSnippetLength(0)), "\n"))
			}
			return nil
		},
	}
	ask.Flags().StringVar(&searchType, "type", "", "semantic, statistical or hybrid (default from chat.default_search_type)")
	ask.Flags().StringVar(&queryMode, "mode", "", "last or all")
	ask.Flags().IntVar(&topK, "top-k", 0, "number of studies to retrieve (1-20)")
	ask.Flags().Float64Var(&alpha, "alpha", 0.5, "hybrid blend weight (0-1)")
	ask.Flags().BoolVar(&plain, "plain", false, "disable terminal styling")
	return ask
}
