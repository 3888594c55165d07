package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/xconform/internal/engine"
)

// EngineListing describes one registered engine.
type EngineListing struct {
	engine.Info
	Capabilities []engine.Capability `json:"capabilities"`
}

// NewEnginesCommand creates the engines command.
func NewEnginesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "engines",
		Short:         "List registered engines and their capabilities",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngines(rootOpts, cmd)
		},
	}
}

func runEngines(opts *RootOptions, cmd *cobra.Command) error {
	reg := opts.registry()
	var listings []EngineListing
	for _, name := range reg.Names() {
		desc, err := reg.Lookup(name)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list engines", err)
		}
		caps, err := capabilitiesOf(desc)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to build engine %s", name), err).WithErrCode(ErrCodeEngine)
		}
		listings = append(listings, EngineListing{Info: desc.Info, Capabilities: caps})
	}

	formatter := opts.formatter(cmd)
	if formatter.Format == "json" {
		return formatter.Success(listings)
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENGINE\tCAPABILITIES\tVERSIONS\tDESCRIPTION")
	for _, l := range listings {
		caps := make([]string, len(l.Capabilities))
		for i, c := range l.Capabilities {
			caps[i] = string(c)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.Name, strings.Join(caps, ","),
			strings.Join(l.Versions, ","), l.Description)
	}
	return tw.Flush()
}

// capabilitiesOf builds a throwaway instance to discover which capability
// sets the engine implements.
func capabilitiesOf(desc engine.Descriptor) ([]engine.Capability, error) {
	eng, err := desc.New()
	if err != nil {
		return nil, err
	}
	if c, ok := eng.(engine.Closer); ok {
		defer c.Close()
	}
	return engine.Capabilities(eng), nil
}
