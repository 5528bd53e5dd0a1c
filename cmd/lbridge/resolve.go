package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/lbridge/internal/devclass"
	"github.com/srg/lbridge/internal/device"
)

// resolveCmd classifies a peripheral from what it advertises, without a radio.
var resolveCmd = &cobra.Command{
	Use:   "resolve [device-address]",
	Short: "Resolve advertised services to a device class",
	Long: fmt.Sprintf(`Resolves a peripheral to a device class from its advertised service UUIDs
and prints the identity and property list a bridge for it would expose.

Examples:
  lbridge resolve %s --service 2899fe00-c277-48a8-91cb-b29ab0f01ac4 --name "GrillRight"
  lbridge resolve --service 180f --format json

%s`, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.MaximumNArgs(1),
	RunE: runResolve,
}

var (
	resolveServices []string
	resolveName     string
	resolveFormat   string
)

func init() {
	resolveCmd.Flags().StringSliceVarP(&resolveServices, "service", "s", nil, "Advertised service UUIDs")
	resolveCmd.Flags().StringVar(&resolveName, "name", "", "Advertised local name")
	resolveCmd.Flags().StringVarP(&resolveFormat, "format", "f", "table", "Output format (table, json)")
}

type resolvedProperty struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Direction string `json:"direction"`
	Command   string `json:"command,omitempty"`
}

type resolveResult struct {
	Class         string             `json:"class"`
	Model         string             `json:"model"`
	OEMModel      string             `json:"oem_model"`
	HardwareID    string             `json:"hardware_id,omitempty"`
	ProductName   string             `json:"product_name"`
	TemplateKey   string             `json:"template_key"`
	SubdeviceKeys []string           `json:"subdevice_keys"`
	Properties    []resolvedProperty `json:"properties"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	if err := validateFormat(resolveFormat); err != nil {
		return err
	}
	var services []string
	if len(resolveServices) > 0 {
		var err error
		services, err = device.ValidateUUID(resolveServices...)
		if err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	_, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	var address string
	if len(args) > 0 {
		address = args[0]
	}
	res := devclass.NewResolver(logger).Resolve(devclass.Candidate{
		HardwareID: address,
		LocalName:  resolveName,
		Services:   services,
	})

	out := resolveResult{
		Class:         res.Class.String(),
		Model:         res.Identity.Model,
		OEMModel:      res.Identity.OEMModel,
		HardwareID:    res.Identity.HardwareID,
		ProductName:   res.Identity.ProductName,
		TemplateKey:   res.Registration.TemplateKey,
		SubdeviceKeys: res.Registration.SubdeviceKeys,
	}
	for _, name := range res.Registration.PropertyNames {
		d, _ := res.Class.Table.Lookup(name.Field())
		p := resolvedProperty{Name: name.String(), Kind: d.Kind.String(), Direction: "fromDevice"}
		if d.Writable {
			p.Direction = "toDevice"
			p.Command = d.Command.String()
		}
		out.Properties = append(out.Properties, p)
	}

	w := cmd.OutOrStdout()
	if resolveFormat == "json" {
		return writeJSON(w, out)
	}

	fmt.Fprintf(w, "Class:    %s\n", out.Class)
	fmt.Fprintf(w, "Product:  %s (%s, %s)\n", out.ProductName, out.Model, out.OEMModel)
	fmt.Fprintf(w, "Template: %s, sub-devices %s\n\n", out.TemplateKey, strings.Join(out.SubdeviceKeys, ","))

	tw := newTable(w)
	fmt.Fprintln(tw, "PROPERTY\tKIND\tDIRECTION\tCOMMAND")
	for _, p := range out.Properties {
		command := p.Command
		if command == "" {
			command = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Kind, p.Direction, command)
	}
	return tw.Flush()
}
