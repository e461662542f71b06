package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cloudx-io/dutchauction/receipts"
)

func main() {
	var (
		receiptInput     = flag.String("receipt", "", "Signed receipt, base64 COSE (file path or inline)")
		publicKeyInput   = flag.String("public-key", "", "Receipt signing key, PEM (file path or inline)")
		attestationInput = flag.String("attestation", "", "Optional key attestation, base64 COSE (file path or inline)")
		configHash       = flag.String("config-hash", "", "Optional expected auction config hash (hex)")
		outputFormat     = flag.String("format", "text", "Output format: text or json")
		help             = flag.Bool("help", false, "Show usage information")
	)
	flag.Parse()

	if *help {
		showUsage(os.Stdout)
		os.Exit(0)
	}
	if *receiptInput == "" || *publicKeyInput == "" {
		showUsage(os.Stderr)
		fmt.Fprintf(os.Stderr, "\nError: --receipt and --public-key are required\n")
		os.Exit(1)
	}

	os.Exit(run(os.Stdout, os.Stderr, *receiptInput, *publicKeyInput, *attestationInput, *configHash, *outputFormat))
}

// run returns the process exit code: 0 valid, 1 invalid, 2 bad input.
func run(stdout, stderr io.Writer, receiptInput, publicKeyInput, attestationInput, configHash, format string) int {
	receiptB64 := readInput(receiptInput)
	publicKeyPEM := readInput(publicKeyInput)

	result, err := receipts.ValidateReceipt(receiptB64, publicKeyPEM)
	if err != nil {
		fmt.Fprintf(stderr, "Validation error: %v\n", err)
		return 2
	}
	if configHash != "" {
		result.ExpectConfig(configHash)
	}

	var keyResult *receipts.KeyValidationResult
	if attestationInput != "" {
		keyResult, err = receipts.ValidateKeyAttestation(readInput(attestationInput), publicKeyPEM)
		if err != nil {
			fmt.Fprintf(stderr, "Attestation error: %v\n", err)
			return 2
		}
	}

	valid := result.IsValid() && (keyResult == nil || keyResult.IsValid())
	if format == "json" {
		if err := outputJSON(stdout, valid, configHash, result, keyResult); err != nil {
			fmt.Fprintf(stderr, "Error marshaling JSON: %v\n", err)
			return 2
		}
	} else {
		outputText(stdout, valid, configHash, result, keyResult)
	}

	if !valid {
		return 1
	}
	return 0
}

func showUsage(w io.Writer) {
	fmt.Fprintln(w, "Settlement Receipt Verifier")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Checks the signature and hash of a signed settlement receipt.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  receipt-verifier --receipt <base64> --public-key <pem> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Optional Flags:")
	fmt.Fprintln(w, "  --attestation <base64>            Key attestation from the key_request response")
	fmt.Fprintln(w, "  --config-hash <hex>               Auction config hash the receipt must carry")
	fmt.Fprintln(w, "  --format <text|json>              Output format (default: text)")
	fmt.Fprintln(w, "  --help                            Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Each flag accepts either a file path or the value inline.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Exit Codes:")
	fmt.Fprintln(w, "  0 - Validation passed")
	fmt.Fprintln(w, "  1 - Validation failed")
	fmt.Fprintln(w, "  2 - Invalid input or runtime error")
}

func readInput(input string) string {
	if data, err := os.ReadFile(input); err == nil {
		return strings.TrimSpace(string(data))
	}
	return input
}

func outputJSON(w io.Writer, valid bool, configHash string, result *receipts.ValidationResult, keyResult *receipts.KeyValidationResult) error {
	output := map[string]any{
		"valid":           valid,
		"signature_valid": result.SignatureValid,
		"hash_valid":      result.HashValid,
		"receipt":         result.Payload,
		"details":         result.ValidationDetails,
	}
	if configHash != "" {
		output["config_hash_valid"] = result.ConfigHashValid
	}
	if keyResult != nil {
		output["public_key_attested"] = keyResult.PublicKeyMatch
		output["certificate_chain_valid"] = keyResult.CertificateChainValid
		output["module_id"] = keyResult.ModuleID
		output["pcr0"] = keyResult.PCR0
		output["attestation_details"] = keyResult.ValidationDetails
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func outputText(w io.Writer, valid bool, configHash string, result *receipts.ValidationResult, keyResult *receipts.KeyValidationResult) {
	fmt.Fprintln(w, "=== Settlement Receipt Validation ===")
	fmt.Fprintln(w)
	if p := result.Payload; p != nil {
		fmt.Fprintf(w, "Receipt:   %s\n", p.ReceiptID)
		fmt.Fprintf(w, "Auction:   %s (%s)\n", p.AuctionID, p.Variant)
		fmt.Fprintf(w, "Bidder:    %s\n", p.Bidder)
		fmt.Fprintf(w, "Amount:    %s (price %s at unit %d)\n", p.Amount, p.Price, p.TimeUnit)
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Signature: %s\n", status(result.SignatureValid))
	fmt.Fprintf(w, "Hash:      %s\n", status(result.HashValid))
	if configHash != "" {
		fmt.Fprintf(w, "Config:    %s\n", status(result.ConfigHashValid))
	}
	if keyResult != nil {
		fmt.Fprintf(w, "Key:       %s\n", status(keyResult.PublicKeyMatch))
		fmt.Fprintf(w, "Chain:     %s\n", status(keyResult.CertificateChainValid))
	}
	fmt.Fprintln(w)
	for _, d := range result.ValidationDetails {
		fmt.Fprintf(w, "  - %s\n", d)
	}
	if keyResult != nil {
		for _, d := range keyResult.ValidationDetails {
			fmt.Fprintf(w, "  - %s\n", d)
		}
	}
	fmt.Fprintln(w)
	if valid {
		fmt.Fprintln(w, "RESULT: VALID")
	} else {
		fmt.Fprintln(w, "RESULT: INVALID")
	}
}

func status(ok bool) string {
	if ok {
		return "✓ valid"
	}
	return "✗ invalid"
}
