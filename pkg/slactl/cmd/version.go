package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/telekom/sla-escalation/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	var (
		outputFormat string
		remote       bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show slactl version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetBuildInfo()

			// Get runtime if available (for custom writer), but don't fail if missing
			rt, _ := getRuntime(cmd)
			writer := cmd.OutOrStdout()
			if rt != nil {
				writer = rt.Writer()
			}

			var server *version.BuildInfo
			if remote {
				if rt == nil {
					return fmt.Errorf("runtime not initialized")
				}
				apiClient, err := buildClient(rt)
				if err != nil {
					return err
				}
				server, err = apiClient.ServerVersion(cmd.Context())
				if err != nil {
					return err
				}
			}

			switch outputFormat {
			case "json":
				encoder := json.NewEncoder(writer)
				encoder.SetIndent("", "  ")
				if server != nil {
					return encoder.Encode(map[string]version.BuildInfo{"client": info, "server": *server})
				}
				return encoder.Encode(info)
			case "yaml":
				var obj any = info
				if server != nil {
					obj = map[string]version.BuildInfo{"client": info, "server": *server}
				}
				data, err := yaml.Marshal(obj)
				if err != nil {
					return fmt.Errorf("failed to marshal to YAML: %w", err)
				}
				_, _ = fmt.Fprint(writer, string(data))
				return nil
			default:
				_, _ = fmt.Fprintf(writer, "slactl %s (commit: %s, built: %s)\n", info.Version, info.GitCommit, info.BuildDate)
				if server != nil {
					_, _ = fmt.Fprintf(writer, "server %s (commit: %s, built: %s)\n", server.Version, server.GitCommit, server.BuildDate)
				}
				return nil
			}
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "", "Output format: json, yaml")
	cmd.Flags().BoolVar(&remote, "remote", false, "Also query the server version")

	return cmd
}
