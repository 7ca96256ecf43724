package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/snowsledge/Data-Timestamp/pkg/client"
	"github.com/snowsledge/Data-Timestamp/pkg/proof"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	timeout   time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stampctl",
	Short: "Timestamping service CLI",
	Long: `stampctl talks to a stampd server.

It stamps document checksums, fetches inclusion and consistency proofs,
and verifies proofs either on the server or fully offline against a root
you already trust.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.stampctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("stampctl")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.stampctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "stampd base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")

	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(stampCmd)
	rootCmd.AddCommand(proofCmd)
	rootCmd.AddCommand(rootHeadCmd)
	rootCmd.AddCommand(consistencyCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	return client.New(serverURL, client.WithTimeout(timeout))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return client.Checksum(f)
}

// ── hash ─────────────────────────────────────────────────────────────────────

var hashCmd = &cobra.Command{
	Use:   "hash <file> [file] ...",
	Short: "Print the SHA-256 checksum of files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, path := range args {
			sum, err := hashFile(path)
			if err != nil {
				return fmt.Errorf("hash %s: %w", path, err)
			}
			fmt.Fprintf(out, "%s  %s\n", sum, path)
		}
		return nil
	},
}

// ── stamp ────────────────────────────────────────────────────────────────────

var (
	stampFile   string
	stampFormat string
)

var stampCmd = &cobra.Command{
	Use:   "stamp [checksum]",
	Short: "Stamp a checksum (or a file with --file)",
	Long: `Stamp records a SHA-256 checksum in the log and prints the receipt.

  stampctl stamp 2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824
  stampctl stamp --file contract.pdf`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var sum string
		switch {
		case stampFile != "" && len(args) == 0:
			var err error
			if sum, err = hashFile(stampFile); err != nil {
				return fmt.Errorf("hash %s: %w", stampFile, err)
			}
		case stampFile == "" && len(args) == 1:
			sum = strings.TrimSpace(args[0])
		default:
			return errors.New("give exactly one of <checksum> or --file")
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		r, err := c.Stamp(context.Background(), sum)
		if errors.Is(err, client.ErrDuplicate) {
			return fmt.Errorf("%s was stamped before; fetch its proof with 'stampctl proof %s'", sum, sum)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if stampFormat == "json" {
			return printJSON(out, r)
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Checksum:\t%s\n", r.Checksum)
		fmt.Fprintf(w, "Index:\t%d\n", r.Index)
		fmt.Fprintf(w, "Tree size:\t%d\n", r.TreeSize)
		fmt.Fprintf(w, "Root:\t%s\n", r.Root)
		fmt.Fprintf(w, "Stamped at:\t%s\n", r.StampedAt.Format(time.RFC3339))
		if r.Checkpoint != "" {
			fmt.Fprintf(w, "Checkpoint:\t%s\n", r.Checkpoint)
		}
		return w.Flush()
	},
}

func init() {
	stampCmd.Flags().StringVarP(&stampFile, "file", "f", "", "hash and stamp this file")
	stampCmd.Flags().StringVar(&stampFormat, "format", "text", "Output format: text or json")
}

// ── proof ────────────────────────────────────────────────────────────────────

var (
	proofOut  string
	proofCBOR bool
)

var proofCmd = &cobra.Command{
	Use:   "proof <checksum>",
	Short: "Fetch the inclusion proof of a checksum",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		p, err := c.Proof(context.Background(), strings.TrimSpace(args[0]))
		if err != nil {
			return err
		}
		return writeProof(cmd.OutOrStdout(), p)
	},
}

func init() {
	proofCmd.Flags().StringVarP(&proofOut, "output", "o", "", "write the proof to this file instead of stdout")
	proofCmd.Flags().BoolVar(&proofCBOR, "cbor", false, "encode the proof as CBOR (requires --output)")
}

func writeProof(stdout io.Writer, p any) error {
	var (
		blob []byte
		err  error
	)
	if proofCBOR {
		if proofOut == "" {
			return errors.New("--cbor needs --output")
		}
		blob, err = proof.MarshalCBOR(p)
	} else {
		blob, err = json.MarshalIndent(p, "", "  ")
		blob = append(blob, '\n')
	}
	if err != nil {
		return fmt.Errorf("encode proof: %w", err)
	}
	if proofOut == "" {
		_, err = stdout.Write(blob)
		return err
	}
	if err := os.WriteFile(proofOut, blob, 0o644); err != nil {
		return fmt.Errorf("write proof: %w", err)
	}
	fmt.Fprintf(stdout, "proof written to %s\n", proofOut)
	return nil
}

// ── root ─────────────────────────────────────────────────────────────────────

var rootSize int64

var rootHeadCmd = &cobra.Command{
	Use:   "root",
	Short: "Print the current root (or the root at --size)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var h *client.Head
		if rootSize >= 0 {
			h, err = c.RootAt(context.Background(), uint64(rootSize))
		} else {
			h, err = c.Root(context.Background())
		}
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), h)
	},
}

func init() {
	rootHeadCmd.Flags().Int64Var(&rootSize, "size", -1, "print the root the log had at this size")
}

// ── consistency ──────────────────────────────────────────────────────────────

var consistencyTo uint64

var consistencyCmd = &cobra.Command{
	Use:   "consistency <from-size|from-root>",
	Short: "Fetch a proof that the log extends an earlier size or root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		p, err := c.Consistency(context.Background(), strings.TrimSpace(args[0]), consistencyTo)
		if err != nil {
			return err
		}
		return writeProof(cmd.OutOrStdout(), p)
	},
}

func init() {
	consistencyCmd.Flags().Uint64Var(&consistencyTo, "to", 0, "target size (default: current size)")
	consistencyCmd.Flags().StringVarP(&proofOut, "output", "o", "", "write the proof to this file instead of stdout")
	consistencyCmd.Flags().BoolVar(&proofCBOR, "cbor", false, "encode the proof as CBOR (requires --output)")
}

// ── validate ─────────────────────────────────────────────────────────────────

var validateCmd = &cobra.Command{
	Use:   "validate <proof-file>",
	Short: "Ask the server to validate a proof against its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		v, err := c.Validate(context.Background(), raw)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s proof at tree size %d: %s\n", v.Kind, v.TreeSize, verdict(v.Valid))
		if !v.Valid {
			return errors.New("proof is not valid")
		}
		return nil
	},
}

// ── verify ───────────────────────────────────────────────────────────────────

var (
	verifyRoot       string
	verifyCheckpoint string
	verifyKeyFile    string
)

var verifyCmd = &cobra.Command{
	Use:   "verify [proof-file] (--root <hex> | --checkpoint <jwt>)",
	Short: "Verify a proof or checkpoint offline",
	Long: `Verify checks a proof without asking the server to validate it.

For an inclusion proof --root is the root at the proof's tree size.
For a consistency proof --root is the old root; success means the proof's
new root extends it.

With --checkpoint the signed tree head is verified first and its root is
trusted in place of --root. The key comes from --key (a file written by
'stampctl key') or, without --key, from the server.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		trusted := strings.TrimSpace(verifyRoot)

		if verifyCheckpoint != "" {
			key, err := checkpointKey()
			if err != nil {
				return err
			}
			head, err := client.VerifyCheckpoint(strings.TrimSpace(verifyCheckpoint), key)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "checkpoint: size %d root %s issuer %s\n", head.Size, head.Root, head.Issuer)
			if trusted == "" {
				trusted = head.Root
			}
			if len(args) == 0 {
				fmt.Fprintln(out, verdict(true))
				return nil
			}
		}

		if len(args) == 0 {
			return errors.New("give a proof file, --checkpoint, or both")
		}
		if trusted == "" {
			return errors.New("--root or --checkpoint is required to verify a proof")
		}
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		ok, err := client.VerifyOffline(raw, trusted)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, verdict(ok))
		if !ok {
			if computed, err := recomputedRoot(raw); err == nil {
				fmt.Fprintf(out, "proof recomputes to root %s\n", computed)
			}
			return errors.New("proof does not match the trusted root")
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyRoot, "root", "", "trusted root (64 hex chars)")
	verifyCmd.Flags().StringVar(&verifyCheckpoint, "checkpoint", "", "signed checkpoint (JWT) whose root is trusted")
	verifyCmd.Flags().StringVar(&verifyKeyFile, "key", "", "checkpoint key file from 'stampctl key' (default: fetch from server)")
}

func checkpointKey() (*client.CheckpointKey, error) {
	if verifyKeyFile == "" {
		c, err := newClient()
		if err != nil {
			return nil, err
		}
		return c.CheckpointKey(context.Background())
	}
	raw, err := os.ReadFile(verifyKeyFile)
	if err != nil {
		return nil, err
	}
	var key client.CheckpointKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", verifyKeyFile, err)
	}
	return &key, nil
}

// recomputedRoot returns the root an inclusion proof folds up to.
func recomputedRoot(raw []byte) (string, error) {
	env, err := proof.Decode(raw)
	if err != nil {
		return "", err
	}
	if env.Kind() != proof.KindInclusion {
		return "", errors.New("not an inclusion proof")
	}
	root, fits, err := proof.RootFromInclusion(env.Inclusion)
	if err != nil {
		return "", err
	}
	if !fits {
		return "", errors.New("path does not fit the tree size")
	}
	return root.String(), nil
}

func verdict(ok bool) string {
	if ok {
		return "VALID"
	}
	return "INVALID"
}

// ── key ──────────────────────────────────────────────────────────────────────

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Print the server's checkpoint verification key",
	Long: `Key prints the key that verifies the server's signed checkpoints.
Save it and pass it to 'stampctl verify --key' to verify without the server.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		key, err := c.CheckpointKey(context.Background())
		if errors.Is(err, client.ErrNotFound) {
			return errors.New("server does not sign checkpoints")
		}
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), key)
	},
}

// ── export ───────────────────────────────────────────────────────────────────

var exportSecret string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Ask the server to write a snapshot (admin)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := exportSecret
		if secret == "" {
			secret = viper.GetString("admin_secret")
		}
		if secret == "" {
			return errors.New("admin secret required (--secret or STAMPCTL_ADMIN_SECRET)")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Export(context.Background(), secret)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "snapshot of %s leaves written to %s\n", strconv.FormatUint(res.Size, 10), res.Path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportSecret, "secret", "", "admin secret")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the stampctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "stampctl %s\n", version)
	},
}
