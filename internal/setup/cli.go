package setup

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/phenotype-similarity-server/internal/config"
)

// NewCommand builds the "setup" command tree for the lite binary
func NewCommand(cfg *config.LiteConfig) *cobra.Command {
	var clientConfig string

	root := &cobra.Command{
		Use:           "setup",
		Short:         "Register the server with a desktop MCP client and check its data directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&clientConfig, "client-config", "", "desktop client config file (OS default when empty)")

	root.AddCommand(registerCommand(cfg, &clientConfig), statusCommand(cfg, &clientConfig))
	return root
}

func registerCommand(cfg *config.LiteConfig, clientConfig *string) *cobra.Command {
	opts := Options{}

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Add this server to the desktop client configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.ConfigPath = *clientConfig
			if opts.BinaryPath == "" {
				exe, err := os.Executable()
				if err != nil {
					return fmt.Errorf("cannot determine server binary: %w", err)
				}
				opts.BinaryPath = exe
			}
			if opts.DataDir == "" {
				opts.DataDir = cfg.DataDir
			}

			path, err := Register(opts)
			if err != nil {
				return err
			}
			if err := (&config.LiteConfig{DataDir: opts.DataDir}).EnsureDataDir(); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Registered %s in %s\n", ServerName, path)
			fmt.Fprintf(out, "  command:  %s\n", opts.BinaryPath)
			fmt.Fprintf(out, "  data dir: %s\n", opts.DataDir)
			fmt.Fprintln(out, "Place hp.obo and phenotype.hpoa in the data directory and restart the client.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.BinaryPath, "binary", "b", "", "server binary (this executable when empty)")
	cmd.Flags().StringVarP(&opts.DataDir, "data-dir", "d", "", "data directory passed as PHENOSIM_DATA_DIR")
	cmd.Flags().StringVar(&opts.Transport, "transport", "", "transport passed as PHENOSIM_TRANSPORT")
	return cmd
}

func statusCommand(cfg *config.LiteConfig, clientConfig *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report registration and data directory readiness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status := CheckStatus(cfg, *clientConfig)
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			fmt.Fprintf(out, "Client config: %s (registered: %t)\n", status.ClientConfigPath, status.Registered)
			fmt.Fprintf(out, "Data directory: %s\n", status.DataDir)
			fmt.Fprintf(out, "  ontology:    %s\n", status.OntologyFile)
			fmt.Fprintf(out, "  annotations: %s\n", status.AnnotationsFile)
			fmt.Fprintf(out, "  patients:    %d in %s\n", status.Patients, status.PatientsDir)
			fmt.Fprintf(out, "  snapshot:    %t\n", status.SnapshotPresent)
			if status.Ready() {
				fmt.Fprintln(out, "Ready")
				return nil
			}
			fmt.Fprintln(out, "Issues:")
			for _, issue := range status.Issues {
				fmt.Fprintf(out, "  - %s\n", issue)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")
	return cmd
}
