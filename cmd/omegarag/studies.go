package main

import (
	"github.com/mohammad-safakhou/omegarag/internal/studyindex"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func studiesCMD(cfgPath *string) *cobra.Command {
	var studies = &cobra.Command{
		Use:   "studies",
		Short: "Local study index",
	}

	var dataFile, addr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Serve /search over a JSON file of studies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(*cfgPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if dataFile == "" {
				dataFile = cfg.Studies.DataFile
			}
			if addr == "" {
				addr = cfg.Studies.Address
			}

			recs, err := studyindex.LoadRecords(dataFile)
			if err != nil {
				return err
			}
			ix, err := studyindex.New(recs, logger)
			if err != nil {
				return err
			}
			defer ix.Close()
			logger.Info("study index built", zap.String("file", dataFile), zap.Int("studies", ix.Len()))
			return studyindex.Serve(cmd.Context(), addr, ix, logger)
		},
	}
	serve.Flags().StringVar(&dataFile, "data", "", "studies JSON file (default studies.data_file)")
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default studies.address)")

	studies.AddCommand(serve)
	return studies
}
