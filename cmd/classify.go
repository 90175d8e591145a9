package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	infralogger "github.com/jonesrussell/north-cloud/guardrail/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/guardrail/internal/api"
	"github.com/jonesrussell/north-cloud/guardrail/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/guardrail/internal/config"
	"github.com/jonesrussell/north-cloud/guardrail/internal/payload"
	"github.com/jonesrussell/north-cloud/guardrail/internal/telemetry"
)

func newClassifyCommand(opts *rootOptions) *cobra.Command {
	var (
		deployment string
		file       string
		offline    bool
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Run one JSON payload through a deployment and print the decision",
		Example: `  guardrail classify --deployment sojka_guard --file payload.json
  echo '{"message": "..."}' | guardrail classify --offline`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := readPayload(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			v, err := payload.Parse(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}

			cfg, err := bootstrap.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			log := infralogger.NewNop()
			if opts.debug {
				cfg.Logging.Level = "debug"
				if log, err = bootstrap.CreateLogger(cfg); err != nil {
					return err
				}
			}

			tp := telemetry.NewProvider(prometheus.NewRegistry())
			comps, err := bootstrap.NewComponents(cmd.Context(), cfg, log, tp, bootstrap.BuildOptions{
				Only:    deployment,
				Offline: offline,
			})
			if err != nil {
				return err
			}
			defer comps.Close()

			g, _ := comps.Deployment(deployment)
			decision, err := g.ClassifyPayload(cmd.Context(), v)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(api.ClassifyResponse{Results: decision})
		},
	}

	cmd.Flags().StringVar(&deployment, "deployment", config.DeploymentNaskGuard, "deployment to classify with")
	cmd.Flags().StringVar(&file, "file", "-", "payload file, - for stdin")
	cmd.Flags().BoolVar(&offline, "offline", false, "tokenize locally on whitespace; the sidecar is only used to classify")
	return cmd
}

func readPayload(stdin io.Reader, file string) ([]byte, error) {
	if file == "" || file == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return raw, nil
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return raw, nil
}
