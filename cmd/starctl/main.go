package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/starregistry/internal/signature"
	"github.com/jmerrifield20/starregistry/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	registryURL string
	cfgFile     string
	keyWIF      string
	format      string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "starctl",
	Short: "Star registry CLI",
	Long: `starctl is the command-line interface for the star registry.

It generates signing keys, requests ownership challenges, registers stars
and queries the ledger of a running notary.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".starctl"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("starctl")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if registryURL == "" {
			registryURL = viper.GetString("registry_url")
		}
		if registryURL == "" {
			registryURL = "http://localhost:8000"
		}
		if keyWIF == "" {
			keyWIF = viper.GetString("key")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.starctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&registryURL, "registry", "", "notary URL (default http://localhost:8000)")
	rootCmd.PersistentFlags().StringVar(&keyWIF, "key", "", "WIF-encoded signing key (or STARCTL_KEY)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "text", "Output format: text or json")

	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(challengeCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(starsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	return client.New(registryURL)
}

func loadKey() (*signature.Key, error) {
	if keyWIF == "" {
		return nil, errors.New("no signing key: pass --key or set STARCTL_KEY")
	}
	return signature.ParseWIF(keyWIF)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── keygen ───────────────────────────────────────────────────────────────────

var keygenOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new secp256k1 signing key and its address",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := signature.GenerateKey()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if keygenOut != "" {
			if err := os.MkdirAll(filepath.Dir(keygenOut), 0o700); err != nil {
				return fmt.Errorf("create key directory: %w", err)
			}
			if err := os.WriteFile(keygenOut, []byte(key.WIF()+"\n"), 0o600); err != nil {
				return fmt.Errorf("write key: %w", err)
			}
		}

		if format == "json" {
			return printJSON(out, map[string]string{"address": key.Address(), "wif": key.WIF()})
		}
		fmt.Fprintf(out, "Address: %s\n", key.Address())
		fmt.Fprintf(out, "WIF:     %s\n", key.WIF())
		if keygenOut != "" {
			fmt.Fprintf(out, "Saved:   %s\n", keygenOut)
		}
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenOut, "out", "", "Also write the WIF key to this file (mode 0600)")
}

// ── sign ─────────────────────────────────────────────────────────────────────

var signCmd = &cobra.Command{
	Use:   "sign <message>",
	Short: "Sign a message with the configured key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := loadKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key.SignMessage(args[0]))
		return nil
	},
}

// ── challenge ────────────────────────────────────────────────────────────────

var challengeCmd = &cobra.Command{
	Use:   "challenge [address]",
	Short: "Request an ownership challenge for an address",
	Long: `Request the message an address owner must sign to register a star.

When no address is given the address of the configured key is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var address string
		if len(args) == 1 {
			address = args[0]
		} else {
			key, err := loadKey()
			if err != nil {
				return err
			}
			address = key.Address()
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		ch, err := c.RequestValidation(cmd.Context(), address)
		if err != nil {
			return fmt.Errorf("request challenge: %w", err)
		}

		out := cmd.OutOrStdout()
		if format == "json" {
			return printJSON(out, ch)
		}
		fmt.Fprintf(out, "Message: %s\n", ch.Message)
		fmt.Fprintf(out, "Expires: %s\n", time.Unix(ch.RequestedAt+ch.WindowSeconds, 0).UTC().Format(time.RFC3339))
		return nil
	},
}

// ── submit ───────────────────────────────────────────────────────────────────

var (
	subAddress   string
	subMessage   string
	subSignature string
	subStar      client.Star
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Register a star on the ledger",
	Long: `Register a star on the ledger.

With a configured key, submit requests a fresh challenge, signs it and
submits the star in one step:

  starctl submit --key <wif> --ra "16h 29m 1.0s" --dec "-26° 29' 24.9" --story "Found it"

To submit a challenge signed elsewhere, pass --address, --message and
--signature explicitly.`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&subAddress, "address", "", "Owner address (manual mode)")
	submitCmd.Flags().StringVar(&subMessage, "message", "", "Signed challenge message (manual mode)")
	submitCmd.Flags().StringVar(&subSignature, "signature", "", "Base64 signature over --message (manual mode)")
	submitCmd.Flags().StringVar(&subStar.RA, "ra", "", "Right ascension (required)")
	submitCmd.Flags().StringVar(&subStar.Dec, "dec", "", "Declination (required)")
	submitCmd.Flags().StringVar(&subStar.Magnitude, "mag", "", "Magnitude")
	submitCmd.Flags().StringVar(&subStar.Constellation, "cen", "", "Constellation")
	submitCmd.Flags().StringVar(&subStar.Story, "story", "", "Story, up to 250 words and 500 bytes (required)")
	_ = submitCmd.MarkFlagRequired("ra")
	_ = submitCmd.MarkFlagRequired("dec")
	_ = submitCmd.MarkFlagRequired("story")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	address, message, sig := subAddress, subMessage, subSignature
	if sig == "" {
		key, err := loadKey()
		if err != nil {
			return err
		}
		address = key.Address()
		ch, err := c.RequestValidation(ctx, address)
		if err != nil {
			return fmt.Errorf("request challenge: %w", err)
		}
		message = ch.Message
		sig = key.SignMessage(message)
	} else if address == "" || message == "" {
		return errors.New("--address and --message are required with --signature")
	}

	res, err := c.SubmitStar(ctx, address, message, sig, subStar)
	if err != nil {
		if errors.Is(err, client.ErrChallengeExpired) {
			return fmt.Errorf("challenge expired, request a new one: %w", err)
		}
		return fmt.Errorf("submit star: %w", err)
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		return printJSON(out, res)
	}
	fmt.Fprintf(out, "Height:  %d\n", res.Block.Height)
	fmt.Fprintf(out, "Hash:    %s\n", res.Block.Hash)
	fmt.Fprintf(out, "Owner:   %s\n", address)
	if res.Receipt != "" {
		fmt.Fprintf(out, "Receipt: %s\n", res.Receipt)
	}
	return nil
}

// ── block ────────────────────────────────────────────────────────────────────

var blockCmd = &cobra.Command{
	Use:   "block <height|hash>",
	Short: "Show a block by height or hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		var b *client.Block
		if height, convErr := strconv.Atoi(args[0]); convErr == nil {
			b, err = c.GetBlockByHeight(cmd.Context(), height)
		} else {
			b, err = c.GetBlockByHash(cmd.Context(), args[0])
		}
		if err != nil {
			return fmt.Errorf("get block %q: %w", args[0], err)
		}

		out := cmd.OutOrStdout()
		if format == "json" {
			return printJSON(out, b)
		}
		fmt.Fprintf(out, "Height:   %d\n", b.Height)
		fmt.Fprintf(out, "Time:     %s\n", b.Time.Format(time.RFC3339Nano))
		fmt.Fprintf(out, "Hash:     %s\n", b.Hash)
		if b.PreviousHash != "" {
			fmt.Fprintf(out, "Previous: %s\n", b.PreviousHash)
		}
		if r := b.Record; r != nil {
			fmt.Fprintf(out, "Owner:    %s\n", r.Owner)
			fmt.Fprintf(out, "RA/Dec:   %s / %s\n", r.Star.RA, r.Star.Dec)
			fmt.Fprintf(out, "Story:    %s\n", r.Star.Story)
		}
		return nil
	},
}

// ── stars ────────────────────────────────────────────────────────────────────

var starsCmd = &cobra.Command{
	Use:   "stars <address>",
	Short: "List the stars registered by an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		stars, err := c.GetStarsByOwner(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("list stars: %w", err)
		}

		out := cmd.OutOrStdout()
		if format == "json" {
			return printJSON(out, stars)
		}
		if len(stars) == 0 {
			fmt.Fprintf(out, "No stars registered by %s\n", args[0])
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "HEIGHT\tRA\tDEC\tSTORY\tHASH")
		for _, s := range stars {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", s.Height, s.Star.RA, s.Star.Dec, s.Star.Story, s.BlockHash)
		}
		return w.Flush()
	},
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyReceipt string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Audit the ledger, or check a registration receipt with --receipt",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if verifyReceipt != "" {
			st, err := c.VerifyReceipt(cmd.Context(), verifyReceipt)
			if err != nil {
				return fmt.Errorf("verify receipt: %w", err)
			}
			if format == "json" {
				return printJSON(out, st)
			}
			fmt.Fprintf(out, "Receipt valid: block %d owned by %s (on chain: %t)\n", st.Height, st.Owner, st.OnChain)
			return nil
		}

		rep, err := c.VerifyLedger(cmd.Context())
		if err != nil {
			return fmt.Errorf("verify ledger: %w", err)
		}
		if format == "json" {
			return printJSON(out, rep)
		}
		if rep.Valid {
			fmt.Fprintf(out, "Ledger valid (height %d)\n", rep.Height)
			return nil
		}
		for _, m := range rep.Messages {
			fmt.Fprintln(out, m)
		}
		return fmt.Errorf("ledger has %d integrity errors", len(rep.Errors))
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyReceipt, "receipt", "", "Registration receipt to check instead of auditing the ledger")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the starctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "starctl %s\n", version)
	},
}
