package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"

	"github.com/fbas-tools/analyzer/internal/analysis"
	"github.com/fbas-tools/analyzer/internal/cache"
	"github.com/fbas-tools/analyzer/internal/fbas"
	"github.com/fbas-tools/analyzer/internal/grouping"
	"github.com/fbas-tools/analyzer/internal/pipeline"
)

const (
	fbasCmdName          = "fbas"
	organizationsCmdName = "organizations"
	faultyNodesCmdName   = "faulty-nodes"
	mergeByCmdName       = "merge-by"
	outputCmdName        = "output"
	nodeLimitCmdName     = "node-limit"

	outputJSON = "json"
	outputCBOR = "cbor"

	// stdinFileName reads the input from standard input
	stdinFileName = "-"
)

type analyzeConfig struct {
	Base            *baseConfiguration
	FbasFile        string
	OrgsFile        string
	FaultyNodesFile string
	MergeBy         string
	Output          string
	NodeLimit       int
}

func newAnalyzeCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &analyzeConfig{Base: baseConfig}
	var cmd = &cobra.Command{
		Use:   "analyze",
		Short: "analyses an FBAS given in stellarbeat.io JSON format",
		Long: `Analyses an FBAS given in stellarbeat.io JSON format and prints minimal quorums, minimal blocking
and splitting sets, the top tier and whether quorums intersect. Results can be merged by organization, ISP or country.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execAnalyzeCmd(cmd, config)
		},
	}
	cmd.Flags().StringVarP(&config.FbasFile, fbasCmdName, "f", "", "nodes JSON file, - reads standard input")
	cmd.Flags().StringVar(&config.OrgsFile, organizationsCmdName, "", "organizations JSON file, required when merging by organization")
	cmd.Flags().StringVar(&config.FaultyNodesFile, faultyNodesCmdName, "", "JSON file with an array of public keys of inactive nodes")
	cmd.Flags().StringVar(&config.MergeBy, mergeByCmdName, "", "merge results by one of: orgs, isps, countries")
	cmd.Flags().StringVarP(&config.Output, outputCmdName, "o", outputJSON, "output format, one of: json, cbor")
	cmd.Flags().IntVar(&config.NodeLimit, nodeLimitCmdName, analysis.DefaultNodeLimit, "maximum number of nodes the analysis accepts")
	if err := cmd.MarkFlagRequired(fbasCmdName); err != nil {
		panic(err)
	}
	return cmd
}

func execAnalyzeCmd(cmd *cobra.Command, config *analyzeConfig) error {
	if config.Output != outputJSON && config.Output != outputCBOR {
		return fmt.Errorf("invalid %s %q, must be one of: %s, %s", outputCmdName, config.Output, outputJSON, outputCBOR)
	}
	mergeBy, err := grouping.ParseMergeBy(config.MergeBy)
	if err != nil {
		return err
	}
	nodes, err := readInput(cmd.InOrStdin(), config.FbasFile)
	if err != nil {
		return fmt.Errorf("reading FBAS: %w", err)
	}
	f, err := fbas.FromJSON(nodes)
	if err != nil {
		return err
	}
	var orgs []byte
	if config.OrgsFile != "" {
		if orgs, err = readInput(cmd.InOrStdin(), config.OrgsFile); err != nil {
			return fmt.Errorf("reading organizations: %w", err)
		}
	}
	var faulty []string
	if config.FaultyNodesFile != "" {
		data, err := readInput(cmd.InOrStdin(), config.FaultyNodesFile)
		if err != nil {
			return fmt.Errorf("reading faulty nodes: %w", err)
		}
		if faulty, err = pipeline.ParseInactiveNodes(data); err != nil {
			return err
		}
	}

	engine, err := analysis.NewReferenceEngine(analysis.WithNodeLimit(config.NodeLimit))
	if err != nil {
		return err
	}
	analyzer, err := pipeline.New(engine, cache.New())
	if err != nil {
		return err
	}
	out, err := analyzer.Analyze(cmd.Context(), &pipeline.Request{
		Fbas:             f,
		MergeBy:          mergeBy,
		Organizations:    orgs,
		NodesDescription: nodes,
		InactiveNodes:    faulty,
	})
	if err != nil {
		return err
	}
	return printOutput(cmd.OutOrStdout(), out, config.Output)
}

// printOutput indents JSON and hex encodes CBOR when printing to a terminal.
func printOutput(w io.Writer, out *pipeline.Output, format string) error {
	terminal := isTerminal(w)
	if format == outputCBOR {
		b, err := cbor.Marshal(out)
		if err != nil {
			return fmt.Errorf("encoding output as cbor: %w", err)
		}
		if terminal {
			_, err = fmt.Fprintln(w, hex.EncodeToString(b))
		} else {
			_, err = w.Write(b)
		}
		return err
	}

	var b []byte
	var err error
	if terminal {
		b, err = json.MarshalIndent(out, "", "  ")
	} else {
		b, err = json.Marshal(out)
	}
	if err != nil {
		return fmt.Errorf("encoding output as json: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func readInput(stdin io.Reader, fileName string) ([]byte, error) {
	if fileName == stdinFileName {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(fileName)
}
