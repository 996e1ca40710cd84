package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/telekom/sla-escalation/pkg/api"
	"github.com/telekom/sla-escalation/pkg/breach"
	"github.com/telekom/sla-escalation/pkg/slactl/client"
	"github.com/telekom/sla-escalation/pkg/slactl/output"
)

func NewBreachCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "breaches",
		Aliases: []string{"breach"},
		Short:   "Manage SLA breaches and their escalation",
	}
	cmd.AddCommand(
		newBreachListCommand(),
		newBreachGetCommand(),
		newBreachRegisterCommand(),
		newBreachEscalateCommand(),
		newBreachResolveCommand(),
	)
	return cmd
}

func writeBreaches(rt *runtimeState, format output.Format, events []breach.Event) error {
	switch format {
	case output.FormatJSON, output.FormatYAML:
		return output.WriteObject(rt.Writer(), format, events)
	case output.FormatWide:
		output.WriteBreachTableWide(rt.Writer(), events)
	default:
		output.WriteBreachTable(rt.Writer(), events)
	}
	return nil
}

func writeBreach(rt *runtimeState, format output.Format, e *breach.Event) error {
	if format == output.FormatJSON || format == output.FormatYAML {
		return output.WriteObject(rt.Writer(), format, e)
	}
	return writeBreaches(rt, format, []breach.Event{*e})
}

func newBreachListCommand() *cobra.Command {
	var (
		openOnly bool
		claimID  string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered breaches, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			apiClient, err := buildClient(rt)
			if err != nil {
				return err
			}
			opts := client.ListOptions{ClaimID: claimID}
			if cmd.Flags().Changed("open") {
				opts.Open = &openOnly
			}
			events, err := apiClient.Breaches().List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return writeBreaches(rt, format, events)
		},
	}
	cmd.Flags().BoolVar(&openOnly, "open", false, "Only unresolved breaches")
	cmd.Flags().StringVar(&claimID, "claim", "", "Only breaches on this claim")
	return cmd
}

func newBreachGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Get a breach by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			apiClient, err := buildClient(rt)
			if err != nil {
				return err
			}
			e, err := apiClient.Breaches().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeBreach(rt, format, e)
		},
	}
}

func newBreachRegisterCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "register -f FILE",
		Short: "Register a breach from a YAML or JSON file ('-' reads stdin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			reg, err := readRegistration(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			apiClient, err := buildClient(rt)
			if err != nil {
				return err
			}
			e, err := apiClient.Breaches().Register(cmd.Context(), reg)
			if err != nil {
				return err
			}
			return writeBreach(rt, format, e)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Breach definition (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// readRegistration decodes YAML (a superset of JSON) and maps it onto the
// API's json field names.
func readRegistration(file string, stdin io.Reader) (api.BreachRegistration, error) {
	var reg api.BreachRegistration
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return reg, fmt.Errorf("failed to read breach definition: %w", err)
	}

	var generic map[string]any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return reg, fmt.Errorf("failed to parse breach definition: %w", err)
	}
	if len(generic) == 0 {
		return reg, errors.New("breach definition is empty")
	}
	raw, err := json.Marshal(generic)
	if err != nil {
		return reg, fmt.Errorf("failed to convert breach definition: %w", err)
	}
	if err := json.Unmarshal(raw, &reg); err != nil {
		return reg, fmt.Errorf("invalid breach definition: %w", err)
	}
	return reg, nil
}

func newBreachEscalateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "escalate ID",
		Short: "Evaluate a breach now and send the notices of any newly reached tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			apiClient, err := buildClient(rt)
			if err != nil {
				return err
			}
			res, err := apiClient.Breaches().Escalate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if format == output.FormatJSON || format == output.FormatYAML {
				return output.WriteObject(rt.Writer(), format, res)
			}
			output.WriteEscalationResult(rt.Writer(), res)
			return nil
		},
	}
}

func newBreachResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve ID",
		Short: "Mark a breach resolved so it is never escalated again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			apiClient, err := buildClient(rt)
			if err != nil {
				return err
			}
			e, err := apiClient.Breaches().Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeBreach(rt, format, e)
		},
	}
}
