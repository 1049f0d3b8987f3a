package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	gateway "github.com/marrasen/iec61850-gateway"
	"github.com/marrasen/iec61850-gateway/der"
	"github.com/marrasen/iec61850-gateway/memserver"
)

func newCheckCommand(opts *rootOptions) *cobra.Command {
	var showModel bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration documents against the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return check(cmd.OutOrStdout(), cfg, showModel)
		},
	}
	cmd.Flags().BoolVar(&showModel, "model", false, "print the data model")
	return cmd
}

type checkResult struct {
	dp       *gateway.Datapoint
	ref      string
	status   *memserver.TypeSpec
	ctlModel gateway.ControlModel
}

// check loads the model in process and resolves every datapoint of the
// exchanged data against it, the way Configure does, without starting a server.
func check(out io.Writer, cfg *gatewayFile, showModel bool) error {
	cat, err := cfg.category()
	if err != nil {
		return err
	}
	stack, err := gateway.ParseStackConfig(cat[gateway.ItemProtocolStack])
	if err != nil {
		return fmt.Errorf("%s: %w", gateway.ItemProtocolStack, err)
	}
	exchangeCfg, err := gateway.ParseExchangeConfig(cat[gateway.ItemExchangedData])
	if err != nil {
		return fmt.Errorf("%s: %w", gateway.ItemExchangedData, err)
	}
	exchange, err := gateway.BuildExchangeMap(exchangeCfg)
	if err != nil {
		return fmt.Errorf("%s: %w", gateway.ItemExchangedData, err)
	}

	path := cat[gateway.ItemModelPath]
	if path == "" {
		path = stack.ApplicationLayer.ModelPath
	}
	model, err := memserver.LoadModel(path)
	if err != nil {
		return err
	}
	defer model.Destroy()
	if showModel {
		fmt.Fprintln(out, model.DataModel())
	}

	dps := exchange.Datapoints()
	results := make([]checkResult, len(dps))
	eg := errgroup.Group{}
	eg.SetLimit(4)
	for i, dp := range dps {
		eg.Go(func() error {
			node, err := model.Resolve(dp.ObjRef)
			if err != nil {
				return fmt.Errorf("datapoint %q: %w", dp.ID, err)
			}
			attr, _ := dp.CDC.StatusAttribute()
			ref := node.ObjectReference()
			spec, err := model.TypeSpec(ref+"."+attr.Name, attr.FC)
			if err != nil {
				return fmt.Errorf("datapoint %q %s: %w", dp.ID, dp.CDC, err)
			}
			r := checkResult{dp: dp, ref: ref, status: spec, ctlModel: model.ControlModel(node)}
			if dp.CDC.IsControllable() && r.ctlModel == gateway.CONTROL_MODEL_STATUS_ONLY {
				return fmt.Errorf("datapoint %q: %s is %s but %s is status-only", dp.ID, dp.ObjRef, dp.CDC, ref)
			}
			results[i] = r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCDC\tOBJREF\tSTATUS\tCONTROL")
	for _, r := range results {
		control := "-"
		if r.dp.CDC.IsControllable() {
			control = controlModelName(r.ctlModel)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.dp.ID, r.dp.CDC, r.ref, r.status, control)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if doc := cat[gateway.ItemTLSConf]; doc != "" && stack.TransportLayer.TLS {
		tlsCfg, err := gateway.ParseTLSConfig(doc)
		if err != nil {
			return fmt.Errorf("%s: %w", gateway.ItemTLSConf, err)
		}
		tc, err := gateway.NewTLSConfiguration(tlsCfg, cfg.certDir())
		if err != nil {
			return fmt.Errorf("%s: %w", gateway.ItemTLSConf, err)
		}
		fmt.Fprintf(out, "tls: certificate %s, %d CA file(s), %d allowed certificate(s)\n",
			tc.CertFile, len(tc.CAFiles), len(tc.AllowedCertFiles))
	}

	if doc := cat[gateway.ItemSchedulerConf]; doc != "" {
		schedCfg, err := gateway.ParseSchedulerConfig(doc)
		if err != nil {
			return fmt.Errorf("%s: %w", gateway.ItemSchedulerConf, err)
		}
		schedules, err := der.NewSchedules(schedCfg, time.Now())
		if err != nil {
			return fmt.Errorf("%s: %w", gateway.ItemSchedulerConf, err)
		}
		var names []string
		for _, s := range schedules {
			if _, err := exchange.Resolve(s.Target); err != nil {
				return fmt.Errorf("%s: schedule %q: %w", gateway.ItemSchedulerConf, s.Name, err)
			}
			names = append(names, s.Name)
		}
		fmt.Fprintf(out, "scheduler: enabled=%t schedules=[%s]\n", schedCfg.Enabled, strings.Join(names, " "))
	}

	fmt.Fprintf(out, "%d datapoint(s) ok\n", len(results))
	return nil
}

func controlModelName(m gateway.ControlModel) string {
	switch m {
	case gateway.CONTROL_MODEL_DIRECT_NORMAL:
		return "direct"
	case gateway.CONTROL_MODEL_SBO_NORMAL:
		return "sbo"
	case gateway.CONTROL_MODEL_DIRECT_ENHANCED:
		return "direct-enhanced"
	case gateway.CONTROL_MODEL_SBO_ENHANCED:
		return "sbo-enhanced"
	default:
		return "status-only"
	}
}
