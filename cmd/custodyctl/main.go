// Command custodyctl is a thin HTTP client over a running deployment's
// aggregator and node surfaces, adapted from the teacher's
// cmd/threshold-cli: same cobra command-tree shape, repointed at this
// service's HTTP endpoints instead of in-process protocol objects.
package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	aggregatorURL string
	nodeURL       string
	timeout       time.Duration

	chain      string
	passphrase string
	curve      string
	message    string

	rootCmd = &cobra.Command{
		Use:   "custodyctl",
		Short: "Operator CLI for the threshold custody service",
		Long:  "custodyctl drives address generation, message signing, and quorum status against a running custody deployment.",
	}

	addressCmd = &cobra.Command{
		Use:   "address",
		Short: "Address operations",
	}

	addressGenerateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Generate (or fetch the existing) address for a chain/passphrase",
		RunE:  runAddressGenerate,
	}

	signCmd = &cobra.Command{
		Use:   "sign",
		Short: "Signing operations",
	}

	signMessageCmd = &cobra.Command{
		Use:   "message",
		Short: "Sign an arbitrary message under a passphrase",
		RunE:  runSignMessage,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Report the aggregator's current quorum health",
		RunE:  runStatus,
	}

	pubkeyCmd = &cobra.Command{
		Use:   "pubkey",
		Short: "Fetch a node's cached group public key for a curve/passphrase",
		RunE:  runPubkey,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&aggregatorURL, "aggregator-url", "http://localhost:9000", "base URL of the aggregator HTTP surface")
	rootCmd.PersistentFlags().StringVar(&nodeURL, "node-url", "http://localhost:8000", "base URL of a node HTTP surface")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "HTTP request timeout")

	addressGenerateCmd.Flags().StringVar(&chain, "chain", "", "chain identifier (required)")
	addressGenerateCmd.Flags().StringVar(&passphrase, "passphrase", "", "address passphrase (required)")
	addressGenerateCmd.MarkFlagRequired("chain")
	addressGenerateCmd.MarkFlagRequired("passphrase")

	signMessageCmd.Flags().StringVar(&passphrase, "passphrase", "", "signing passphrase (required)")
	signMessageCmd.Flags().StringVar(&curve, "curve", "", "ciphersuite tag (required)")
	signMessageCmd.Flags().StringVar(&message, "message", "", "hex-encoded message to sign (required)")
	signMessageCmd.MarkFlagRequired("passphrase")
	signMessageCmd.MarkFlagRequired("curve")
	signMessageCmd.MarkFlagRequired("message")

	pubkeyCmd.Flags().StringVar(&curve, "curve", "", "ciphersuite tag (required)")
	pubkeyCmd.Flags().StringVar(&passphrase, "passphrase", "", "address passphrase (required)")
	pubkeyCmd.MarkFlagRequired("curve")
	pubkeyCmd.MarkFlagRequired("passphrase")

	addressCmd.AddCommand(addressGenerateCmd)
	signCmd.AddCommand(signMessageCmd)
	rootCmd.AddCommand(addressCmd, signCmd, statusCmd, pubkeyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func httpClient() *http.Client {
	return &http.Client{Timeout: timeout}
}

func postJSON(url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	resp, err := httpClient().Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func getJSON(url string, out interface{}) error {
	resp, err := httpClient().Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func decodeOrError(resp *http.Response, out interface{}) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var eb struct {
			ErrorKind string `json:"error_kind"`
			Detail    string `json:"detail"`
		}
		_ = json.Unmarshal(data, &eb)
		return fmt.Errorf("server returned %d (%s): %s", resp.StatusCode, eb.ErrorKind, eb.Detail)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func runAddressGenerate(cmd *cobra.Command, args []string) error {
	var out struct {
		Address string `json:"address"`
		Pubkey  string `json:"public_key"`
	}
	if err := postJSON(aggregatorURL+"/api/address/generate", map[string]string{
		"chain":      chain,
		"passphrase": passphrase,
	}, &out); err != nil {
		return err
	}
	fmt.Printf("address: %s\n", out.Address)
	fmt.Printf("public_key: %s\n", out.Pubkey)
	return nil
}

func runSignMessage(cmd *cobra.Command, args []string) error {
	if _, err := hex.DecodeString(message); err != nil {
		return fmt.Errorf("--message must be hex-encoded: %w", err)
	}
	var out struct {
		Signature string `json:"signature"`
	}
	if err := postJSON(aggregatorURL+"/api/sign/message", map[string]string{
		"curve":      curve,
		"passphrase": passphrase,
		"message":    message,
	}, &out); err != nil {
		return err
	}
	fmt.Printf("signature: %s\n", out.Signature)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	var out map[string]interface{}
	if err := getJSON(aggregatorURL+"/status", &out); err != nil {
		return err
	}
	pretty, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(pretty))
	return nil
}

func runPubkey(cmd *cobra.Command, args []string) error {
	var out map[string]interface{}
	url := fmt.Sprintf("%s/api/curve/%s/pubkey?passphrase=%s", nodeURL, curve, passphrase)
	if err := getJSON(url, &out); err != nil {
		return err
	}
	pretty, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(pretty))
	return nil
}
